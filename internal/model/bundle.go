package model

import "time"

// Bundle is a verified, (optionally) extracted factory image set for one
// (codename, version) pair. A Bundle is never mutated once Usable. An
// extraction directory that already exists is reused as is: a later
// resolution of the same bundle neither re-extracts nor replaces it.
type Bundle struct {
	Codename     string          `json:"codename"`
	Version      string          `json:"version"`
	ArchivePath  string          `json:"archive_path"`
	SidecarPath  string          `json:"sidecar_path"`
	InstallDir   string          `json:"install_dir"`
	Verified     bool            `json:"verified"`
	Digest       string          `json:"digest"`
	Partitions   []PartitionFile `json:"partitions"`
	ModifiedTime time.Time       `json:"modified_time"`
}

// Usable reports whether the bundle's archive digest checked out and every
// required partition file was found in the extracted install directory.
func (b *Bundle) Usable() bool {
	if !b.Verified {
		return false
	}
	for _, kind := range RequiredKinds() {
		pf, ok := b.Find(kind)
		if !ok || (pf.Path == "" && len(pf.Splits) == 0) {
			return false
		}
	}
	return true
}

// Find returns the partition file for kind, if present.
func (b *Bundle) Find(kind PartitionKind) (PartitionFile, bool) {
	for _, p := range b.Partitions {
		if p.Kind == kind {
			return p, true
		}
	}
	return PartitionFile{}, false
}
