package model

import "time"

// Level classifies an Event for a UI consumer.
type Level string

const (
	LevelInfo    Level = "info"
	LevelCommand Level = "command"
	LevelOutput  Level = "output"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Progress is the machine-readable variant of an Event's position within
// the overall job, present only on events that carry meaningful progress.
type Progress struct {
	Percent int  `json:"percent"`
	Index   *int `json:"index,omitempty"`
	Total   *int `json:"total,omitempty"`
}

// Event is one immutable, ordered entry in a Job's log. Once appended an
// Event is never modified.
type Event struct {
	Seq       uint64        `json:"seq"`
	Timestamp time.Time     `json:"ts"`
	Step      string        `json:"step"`
	Partition PartitionKind `json:"partition,omitempty"`
	Level     Level         `json:"level"`
	Message   string        `json:"message"`
	Progress  *Progress     `json:"progress,omitempty"`
}
