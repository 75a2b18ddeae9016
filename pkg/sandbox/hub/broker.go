package hub

import (
	"context"
	"sync"
)

// logBroker fan-outs a single runtime log tail to every live viewer of one
// sandbox, so concurrently-connected viewers never cause the runtime log
// stream to be opened more than once (§9: "write logs exactly once").
type logBroker struct {
	mu      sync.Mutex
	viewers map[chan logData]bool
	started bool
	cancel  context.CancelFunc
}

func newLogBroker() *logBroker {
	return &logBroker{viewers: make(map[chan logData]bool)}
}

// subscribe registers a viewer channel to receive published log entries.
func (b *logBroker) subscribe(ch chan logData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.viewers[ch] = true
}

// unsubscribe removes a viewer. It does not stop the tail itself; the hub
// calls evictIfIdle right after, which stops the tail and drops the broker
// once no viewers remain.
func (b *logBroker) unsubscribe(ch chan logData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.viewers, ch)
}

// startOnce runs fn exactly once for this broker's lifetime, even if called
// by multiple concurrently-connecting viewers.
func (b *logBroker) startOnce(fn func(ctx context.Context)) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.mu.Unlock()

	go fn(ctx)
}

// publish fans a log entry out to every subscribed viewer. A viewer whose
// buffer is full is disconnected rather than allowed to stall the tail for
// everyone else, bounding memory per the per-viewer backpressure limit.
func (b *logBroker) publish(entry logData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.viewers {
		select {
		case ch <- entry:
		default:
			close(ch)
			delete(b.viewers, ch)
		}
	}
}

// viewerCount reports how many viewers are currently subscribed.
func (b *logBroker) viewerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.viewers)
}

// stop cancels the broker's runtime tail, if one was started.
func (b *logBroker) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}
