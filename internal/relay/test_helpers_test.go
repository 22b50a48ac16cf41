package relay

import (
	"testing"
	"time"
)

func mustEvent(t *testing.T, ch <-chan Outbound, event string) Outbound {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case out := <-ch:
			if out.Event == event {
				return out
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event %s not received", event)
	return Outbound{}
}

func drain(ch <-chan Outbound) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func noEvent(t *testing.T, ch <-chan Outbound, event string) {
	t.Helper()
	for {
		select {
		case out := <-ch:
			if out.Event == event {
				t.Fatalf("unexpected event %s: %+v", event, out.Data)
			}
		default:
			return
		}
	}
}
