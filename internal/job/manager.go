// Package job is the Job Manager: it owns the lifecycle of every flashing
// run, fans a run's engine events out to subscribers, and retires old jobs
// on a bounded retention policy. Exactly one Job exists per engine.Run call.
package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"flashkit/internal/engine"
	"flashkit/internal/model"
)

const (
	subscriberBuffer = 64
	retainCount      = 100
	retainAge        = 24 * time.Hour
)

// EngineRunner is the subset of engine.Engine that Manager depends on, so
// tests can substitute a fake without spinning up real subprocesses.
type EngineRunner interface {
	Run(ctx context.Context) (engine.State, *engine.FlashError)
}

// EngineFactory builds the Engine for one job, wired to sink as its
// EventSink.
type EngineFactory func(req model.JobRequest, sink engine.EventSink) EngineRunner

// Job is one flashing run: its request, its live/finished state, its
// ordered event log, and its current subscribers. A Job outlives its
// goroutine — its Snapshot remains readable after the run ends.
type Job struct {
	id      string
	req     model.JobRequest
	cancel  context.CancelFunc
	started time.Time

	mu     sync.Mutex
	state  model.JobState
	events []model.Event
	seq    uint64
	subs   map[chan model.Event]struct{}
}

// Emit implements engine.EventSink. It appends to the durable log and
// fans out to every live subscriber without blocking on a slow one — a
// subscriber that can't keep up has its channel closed and is dropped after
// one "subscriber_dropped" event is appended to the log (not fanned out,
// since the dropped subscriber will never read it anyway).
func (j *Job) Emit(step string, partition model.PartitionKind, level model.Level, message string, progress *model.Progress) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	ev := model.Event{
		Seq:       j.seq,
		Timestamp: time.Now(),
		Step:      step,
		Partition: partition,
		Level:     level,
		Message:   message,
		Progress:  progress,
	}
	j.events = append(j.events, ev)

	for ch := range j.subs {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(j.subs, ch)
			j.events = append(j.events, model.Event{
				Seq: j.seq, Timestamp: time.Now(), Step: step,
				Level: model.LevelWarning, Message: "subscriber_dropped: buffer full",
			})
		}
	}
}

// Subscribe returns a channel of events from the current position onward.
// The channel is closed when the job reaches a terminal state (at once, if
// it already has). The caller must drain it and eventually call the
// returned cancel func, which unregisters and closes the channel if it is
// still open.
func (j *Job) Subscribe() (<-chan model.Event, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ch := make(chan model.Event, subscriberBuffer)
	if j.state.Terminal() {
		close(ch)
		return ch, func() {}
	}
	j.subs[ch] = struct{}{}

	unsubscribe := func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if _, ok := j.subs[ch]; ok {
			delete(j.subs, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Snapshot returns a point-in-time, lock-free-to-read copy of the job.
func (j *Job) Snapshot() model.JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	events := make([]model.Event, len(j.events))
	copy(events, j.events)
	return model.JobSnapshot{ID: j.id, Request: j.req, State: j.state, Events: events}
}

// setState records s; a terminal state also closes and drops every
// subscriber channel, ending their streams.
func (j *Job) setState(s model.JobState) {
	j.mu.Lock()
	j.state = s
	if s.Terminal() {
		for ch := range j.subs {
			close(ch)
			delete(j.subs, ch)
		}
	}
	j.mu.Unlock()
}

// Cancel requests cancellation of the job's context. It does not block for
// the engine to actually stop.
func (j *Job) Cancel() {
	j.cancel()
}

// Manager creates and tracks Jobs, and prunes old ones on a retention
// policy: at most retainCount jobs, or older than retainAge, whichever a
// GC pass finds first.
type Manager struct {
	factory EngineFactory

	mu   sync.Mutex
	jobs map[string]*Job
	order []string
}

func NewManager(factory EngineFactory) *Manager {
	return &Manager{factory: factory, jobs: make(map[string]*Job)}
}

// ErrDeviceBusy is returned by Start when the requested serial already has
// a non-terminal job: a device is a mutually exclusive resource, so only
// one job may drive it at a time.
var ErrDeviceBusy = fmt.Errorf("job manager: device already has a non-terminal job")

// Start creates a Job for req and runs its engine in a new goroutine,
// returning immediately with the job's ID. If req.Serial already has a
// live (non-terminal) job, Start refuses and spawns nothing — the check
// and the registration happen under the same lock so two concurrent
// Starts for the same serial cannot both win.
func (m *Manager) Start(ctx context.Context, req model.JobRequest) (string, error) {
	m.mu.Lock()

	if req.Serial != "" {
		for _, id := range m.order {
			j, ok := m.jobs[id]
			if !ok {
				continue
			}
			j.mu.Lock()
			busy := j.req.Serial == req.Serial && !j.state.Terminal()
			j.mu.Unlock()
			if busy {
				m.mu.Unlock()
				return "", fmt.Errorf("%w: %s", ErrDeviceBusy, req.Serial)
			}
		}
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)

	j := &Job{
		id:      id,
		req:     req,
		cancel:  cancel,
		started: time.Now(),
		state:   model.JobPending,
		subs:    make(map[chan model.Event]struct{}),
	}

	m.jobs[id] = j
	m.order = append(m.order, id)
	m.gcLocked()
	m.mu.Unlock()

	eng := m.factory(req, j)

	go func() {
		j.setState(model.JobRunning)
		_, ferr := eng.Run(runCtx)
		if ferr != nil {
			if ferr.Kind == engine.ErrCancelled {
				j.setState(model.JobCancelled)
			} else {
				j.setState(model.JobFailed)
			}
			return
		}
		j.setState(model.JobCompleted)
	}()

	return id, nil
}

// Get returns the job for id, if it is still retained.
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

// gcLocked prunes jobs past the retention policy. Callers must hold m.mu.
func (m *Manager) gcLocked() {
	cutoff := time.Now().Add(-retainAge)

	var kept []string
	for _, id := range m.order {
		j, ok := m.jobs[id]
		if !ok {
			continue
		}
		j.mu.Lock()
		terminal := j.state.Terminal()
		j.mu.Unlock()

		if terminal && j.started.Before(cutoff) {
			delete(m.jobs, id)
			continue
		}
		kept = append(kept, id)
	}

	for len(kept) > retainCount {
		oldest := kept[0]
		if j, ok := m.jobs[oldest]; ok {
			j.mu.Lock()
			terminal := j.state.Terminal()
			j.mu.Unlock()
			if !terminal {
				break // never evict a still-running job just for count
			}
		}
		delete(m.jobs, oldest)
		kept = kept[1:]
	}

	m.order = kept
}
