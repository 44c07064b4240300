package model

// JobState is a Job's lifecycle state. Once terminal (Completed, Failed,
// Cancelled) it never changes.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobOptions carries the flags that vary engine behaviour for one run.
type JobOptions struct {
	SkipUnlock bool `json:"skip_unlock"`
	LockAfter  bool `json:"lock_after"`
	DryRun     bool `json:"dry_run"`
}

// JobRequest is the input to Manager.Start: what device, what bundle, what
// options. BundlePath and Codename are mutually exclusive resolution
// strategies — an empty BundlePath means "resolve latest for Codename".
type JobRequest struct {
	Serial     string     `json:"serial,omitempty"`
	Codename   string     `json:"codename,omitempty"`
	BundlePath string     `json:"bundle_path,omitempty"`
	Options    JobOptions `json:"options"`
}

// JobSnapshot is a point-in-time read of a Job's status, safe to hand to a
// caller without further locking.
type JobSnapshot struct {
	ID      string     `json:"id"`
	Request JobRequest `json:"request"`
	State   JobState   `json:"state"`
	Events  []Event    `json:"events"`
}
