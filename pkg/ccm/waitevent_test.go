package ccm

import "testing"

func TestWaitEvent_SetIsIdempotent(t *testing.T) {
	ev := NewWaitEvent()
	ev.Set()
	ev.Set() // must not panic (double close)

	select {
	case <-ev.Channel():
	default:
		t.Fatal("channel should be closed after Set")
	}
}

func TestWaitEvent_WaitAfterSetCompletesImmediately(t *testing.T) {
	ev := NewWaitEvent()
	ev.Set()

	select {
	case <-ev.Channel():
	default:
		t.Fatal("a wait started after Set must complete immediately")
	}
}

func TestWaitEvent_FreshChannelPerCycle(t *testing.T) {
	ev := NewWaitEvent()
	ev.Set()
	first := ev.Channel()

	ev.Clear()
	second := ev.Channel()

	select {
	case <-second:
		t.Fatal("a cleared event must not appear set on the new cycle")
	default:
	}

	ev.Set()
	select {
	case <-first:
	default:
		t.Fatal("the stale first channel should also have been closed when first set")
	}
	select {
	case <-second:
	default:
		t.Fatal("second channel should be closed after the new Set")
	}
}
