package hub

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLogBrokerFanOut(t *testing.T) {
	b := newLogBroker()

	a := make(chan logData, 4)
	c := make(chan logData, 4)
	b.subscribe(a)
	b.subscribe(c)

	b.publish(logData{Stream: "stdout", Text: "hello"})

	select {
	case got := <-a:
		if got.Text != "hello" {
			t.Errorf("viewer a got %q, want %q", got.Text, "hello")
		}
	default:
		t.Error("viewer a received nothing")
	}

	select {
	case got := <-c:
		if got.Text != "hello" {
			t.Errorf("viewer c got %q, want %q", got.Text, "hello")
		}
	default:
		t.Error("viewer c received nothing")
	}
}

func TestLogBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := newLogBroker()
	a := make(chan logData, 4)
	b.subscribe(a)
	b.unsubscribe(a)

	b.publish(logData{Stream: "stdout", Text: "after unsubscribe"})

	select {
	case v, ok := <-a:
		if ok {
			t.Errorf("unsubscribed viewer received %+v, want nothing", v)
		}
	default:
	}

	if b.viewerCount() != 0 {
		t.Errorf("viewerCount() = %d, want 0", b.viewerCount())
	}
}

func TestLogBrokerStartOnceRunsExactlyOnce(t *testing.T) {
	b := newLogBroker()
	var starts int32

	for i := 0; i < 5; i++ {
		b.startOnce(func(ctx context.Context) {
			atomic.AddInt32(&starts, 1)
		})
	}

	time.Sleep(10 * time.Millisecond)
	if got := atomic.LoadInt32(&starts); got != 1 {
		t.Errorf("tail started %d times, want exactly 1", got)
	}
}

func TestLogBrokerPublishDropsFullViewerWithoutBlocking(t *testing.T) {
	b := newLogBroker()
	slow := make(chan logData) // unbuffered with no reader: a blocking send would never return
	b.subscribe(slow)

	done := make(chan struct{})
	go func() {
		b.publish(logData{Stream: "stdout", Text: "one"})
		b.publish(logData{Stream: "stdout", Text: "two"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow viewer instead of dropping it")
	}
}
