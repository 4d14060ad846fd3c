// Package progress delivers dispatch lifecycle events to clients keyed by
// task id. Events emitted before anyone subscribes are queued and flushed on
// subscribe; DONE and ERROR end a task.
package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tinoosan/magnetron/internal/data"
)

type Stage string

const (
	StageConnected  Stage = "CONNECTED"
	StageAIStart    Stage = "AI_START"
	StageAIComplete Stage = "AI_COMPLETE"
	StageSubmit     Stage = "DOWNLOAD_SUBMIT"
	StageProgress   Stage = "PROGRESS"
	StageDone       Stage = "DONE"
	StageError      Stage = "ERROR"
)

// Terminal reports whether consumers should close after this stage.
func (s Stage) Terminal() bool { return s == StageDone || s == StageError }

// Event is one message on a task's stream.
type Event struct {
	TaskID  string    `json:"taskId"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message,omitempty"`
	URL     string    `json:"url,omitempty"`
	Success *bool     `json:"success,omitempty"`
	Current int       `json:"current,omitempty"`
	Total   int       `json:"total,omitempty"`
	Data    any       `json:"data,omitempty"`
	Time    time.Time `json:"time"`
}

// Emitter is what producers (the dispatcher) need.
type Emitter interface {
	Emit(taskID string, e Event)
}

// subscriberBuffer bounds how far a subscriber may fall behind before it is
// dropped; dropped subscribers can reconnect and receive the backlog.
const subscriberBuffer = 128

type task struct {
	backlog  []Event
	sub      chan Event
	terminal bool
	updated  time.Time
}

// Registry is the process-wide set of live tasks. It is owned by the
// composition root and injected where needed.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*task
	now   func() time.Time
	log   *slog.Logger
}

var _ Emitter = (*Registry)(nil)

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{tasks: make(map[string]*task), now: time.Now, log: log}
}

// Register creates the task so a subscriber can attach before the first
// event. Registering an existing task is a no-op.
func (r *Registry) Register(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[taskID]; !ok {
		r.tasks[taskID] = &task{updated: r.now()}
	}
}

// Emit delivers e to the task's subscriber, or queues it when there is none.
// Emitting to an unknown task registers it.
func (r *Registry) Emit(taskID string, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		t = &task{}
		r.tasks[taskID] = t
	}
	e.TaskID = taskID
	if e.Time.IsZero() {
		e.Time = r.now()
	}
	t.updated = r.now()
	if e.Stage.Terminal() {
		t.terminal = true
	}

	if t.sub != nil {
		select {
		case t.sub <- e:
			if t.terminal {
				close(t.sub)
				delete(r.tasks, taskID)
			}
			return
		default:
			r.log.Warn("progress subscriber too slow, detaching", "task_id", taskID)
			close(t.sub)
			t.sub = nil
		}
	}
	t.backlog = append(t.backlog, e)
}

// Subscribe attaches the single subscriber for taskID, replacing any
// previous one, and flushes queued events into the returned channel. The
// channel is closed after a terminal event or when cancel is called.
func (r *Registry) Subscribe(taskID string) (<-chan Event, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, nil, data.ErrNotFound
	}
	if t.sub != nil {
		close(t.sub)
	}
	ch := make(chan Event, len(t.backlog)+subscriberBuffer)
	for _, e := range t.backlog {
		ch <- e
	}
	t.backlog = nil
	t.updated = r.now()
	if t.terminal {
		close(ch)
		delete(r.tasks, taskID)
		return ch, func() {}, nil
	}
	t.sub = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.tasks[taskID]; ok && cur.sub == ch {
			close(ch)
			cur.sub = nil
		}
	}
	return ch, cancel, nil
}

// Close drops the task and ends its subscription, if any.
func (r *Registry) Close(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(taskID)
}

func (r *Registry) closeLocked(taskID string) {
	t, ok := r.tasks[taskID]
	if !ok {
		return
	}
	if t.sub != nil {
		close(t.sub)
	}
	delete(r.tasks, taskID)
}

// Sweep removes tasks untouched for longer than maxAge and returns how many
// were removed.
func (r *Registry) Sweep(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxAge)
	n := 0
	for id, t := range r.tasks {
		if t.updated.Before(cutoff) {
			r.closeLocked(id)
			n++
		}
	}
	return n
}

// Len reports the number of live tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
