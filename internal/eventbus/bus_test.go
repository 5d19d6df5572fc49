package eventbus

import "testing"

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := New()
	ch1, un1 := b.Subscribe(4)
	ch2, un2 := b.Subscribe(4)
	defer un1()
	defer un2()

	b.Publish(Event{Type: TypeSlotUpdated, Data: "alerts"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TypeSlotUpdated {
				t.Errorf("sub %d: got type %q", i, e.Type)
			}
			if e.Time.IsZero() {
				t.Errorf("sub %d: time not stamped", i)
			}
		default:
			t.Fatalf("sub %d: no event delivered", i)
		}
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := New()
	ch, un := b.Subscribe(1)
	defer un()

	b.Publish(Event{Type: TypeSlotUpdated})
	b.Publish(Event{Type: TypeFicheSaved}) // buffer full, dropped

	if got := len(ch); got != 1 {
		t.Fatalf("queued = %d, want 1", got)
	}
	e := <-ch
	if e.Type != TypeSlotUpdated {
		t.Errorf("kept event = %q, want the first one", e.Type)
	}
}

func TestUnsubscribeIsIdempotentAndClosesChannel(t *testing.T) {
	b := New()
	ch, un := b.Subscribe(1)
	un()
	un()
	if _, open := <-ch; open {
		t.Error("channel should be closed after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: TypeSlotUpdated})
}
