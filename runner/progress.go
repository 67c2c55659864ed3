package runner

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/flightcheck/flightcheck/types"
)

// Event is one node status transition. Events carry a monotonic sequence
// number assigned in the order the transitions occurred; the stream is never
// reordered across concurrent branches. The stream ends with a single final
// event whose Tree field carries the frozen root of the result tree.
type Event struct {
	Seq       uint64
	NodeID    string
	Kind      types.Kind
	From      types.Status
	To        types.Status
	Timestamp time.Time
	Final     bool
	Tree      *types.Node // set on the final event only
}

// subscriberBuffer is the default per-subscriber channel capacity. Emission
// blocks when a subscriber falls this far behind, so consumers must drain
// their channel promptly.
const subscriberBuffer = 256

// Tracker observes state transitions across the testable tree and fans them
// out to subscribers as an ordered event stream. It also keeps live step
// counters and can log a periodic progress summary.
type Tracker struct {
	log log.Logger

	mu          sync.Mutex
	seq         uint64
	subscribers []chan Event
	closed      bool

	totalSteps     int
	completedSteps int
	runningSteps   map[string]time.Time

	ticker *time.Ticker
	stopCh chan struct{}
}

// NewTracker creates a progress tracker. A non-zero report interval starts a
// background goroutine logging summaries until Complete is called.
func NewTracker(logger log.Logger, reportInterval time.Duration) *Tracker {
	if logger == nil {
		logger = log.New()
	}
	t := &Tracker{
		log:          logger,
		runningSteps: make(map[string]time.Time),
		stopCh:       make(chan struct{}),
	}
	if reportInterval > 0 {
		t.ticker = time.NewTicker(reportInterval)
		go t.reporter()
	}
	return t
}

// Subscribe registers a consumer for the ordered event stream. All events
// emitted after subscription are delivered in sequence order; the channel is
// closed after the final event. Delivery blocks once a subscriber falls
// subscriberBuffer events behind, which stalls the run itself: consumers must
// drain their channel promptly or cancel the run.
func (t *Tracker) Subscribe() <-chan Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if t.closed {
		close(ch)
		return ch
	}
	t.subscribers = append(t.subscribers, ch)
	return ch
}

// Begin records the total number of steps the run will attempt
func (t *Tracker) Begin(totalSteps int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalSteps = totalSteps
	t.completedSteps = 0
}

// Observe is the types.Observer fed to the tree: it assigns the transition
// its global sequence number and delivers it to all subscribers.
func (t *Tracker) Observe(node *types.Node, from, to types.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	if node.Kind == types.KindStep {
		switch {
		case to == types.StatusRunning:
			t.runningSteps[node.ID] = time.Now()
		case to.IsTerminal():
			delete(t.runningSteps, node.ID)
			t.completedSteps++
		}
	}

	t.seq++
	t.deliver(Event{
		Seq:       t.seq,
		NodeID:    node.ID,
		Kind:      node.Kind,
		From:      from,
		To:        to,
		Timestamp: time.Now(),
	})
}

// Complete emits the terminal event carrying the frozen result tree and
// closes every subscriber channel. Further observations are discarded.
func (t *Tracker) Complete(root *types.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true

	t.seq++
	t.deliver(Event{
		Seq:       t.seq,
		NodeID:    root.ID,
		Kind:      root.Kind,
		From:      root.Status(),
		To:        root.Status(),
		Timestamp: time.Now(),
		Final:     true,
		Tree:      root,
	})
	for _, ch := range t.subscribers {
		close(ch)
	}
	t.subscribers = nil

	if t.ticker != nil {
		t.ticker.Stop()
		close(t.stopCh)
	}
}

// Close releases subscribers without a final event, used when a run aborts
// before execution starts and there is no result tree to carry.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for _, ch := range t.subscribers {
		close(ch)
	}
	t.subscribers = nil
	if t.ticker != nil {
		t.ticker.Stop()
		close(t.stopCh)
	}
}

// deliver sends to every subscriber while holding the tracker lock, which is
// what guarantees the global ordering.
func (t *Tracker) deliver(ev Event) {
	for _, ch := range t.subscribers {
		ch <- ev
	}
}

// reporter periodically logs a progress summary
func (t *Tracker) reporter() {
	for {
		select {
		case <-t.ticker.C:
			t.reportProgress()
		case <-t.stopCh:
			return
		}
	}
}

func (t *Tracker) reportProgress() {
	t.mu.Lock()
	defer t.mu.Unlock()

	var percent float64
	if t.totalSteps > 0 {
		percent = float64(t.completedSteps) * 100.0 / float64(t.totalSteps)
	}
	t.log.Info("Progress update",
		"completed", t.completedSteps,
		"total", t.totalSteps,
		"percent", percent,
		"numRunning", len(t.runningSteps))
}
