package progress

// ChanReporter writes events to a channel. Useful where a caller wants to
// observe a dispatch directly instead of through the registry.
type ChanReporter struct {
	ch chan<- Event
}

func NewChanReporter(ch chan<- Event) *ChanReporter { return &ChanReporter{ch: ch} }

func (r *ChanReporter) Emit(taskID string, e Event) {
	if r == nil {
		return
	}
	e.TaskID = taskID
	r.ch <- e
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(string, Event) {}
