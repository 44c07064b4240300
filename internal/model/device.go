// Package model holds the data shared by every flashkit component: device
// records, bundle descriptors, partition files, jobs, and the event log.
package model

// Mode is a device's observed protocol-level state. Mode is always the
// result of a probe, never an assumption carried forward from a previous
// probe.
type Mode string

const (
	ModeDebug             Mode = "debug"
	ModeBootloaderFastboot Mode = "bootloader-fastboot"
	ModeUserspaceFastboot  Mode = "userspace-fastboot"
	ModeUnauthorised       Mode = "unauthorised"
	ModeOffline            Mode = "offline"
)

func (m Mode) String() string { return string(m) }

// Device is a point-in-time observation of one attached handset. Codename
// is populated only once identification has succeeded.
type Device struct {
	Serial   string `json:"serial"`
	Mode     Mode   `json:"mode"`
	Codename string `json:"codename,omitempty"`
}
