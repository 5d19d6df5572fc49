package hub

import (
	"sync"
	"testing"

	logx "studiorelay/pkg/logx"
)

// Clients in these tests have no underlying websocket: Publish and the
// registry only interact with the state machine and the send buffer.
func newTestClient(h *Hub) *Client {
	c := NewClient(h, nil, logx.Nop())
	c.MarkOpen()
	return c
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestPublishDeliversToAllOpenClients(t *testing.T) {
	h := New(logx.Nop())
	a, b, c := newTestClient(h), newTestClient(h), newTestClient(h)
	h.Register(a)
	h.Register(b)
	h.Register(c)

	n := h.Publish([]byte(`{"type":"update"}`), nil)
	if n != 3 {
		t.Fatalf("delivered = %d, want 3", n)
	}
	for i, cl := range []*Client{a, b, c} {
		if got := drain(cl); len(got) != 1 {
			t.Errorf("client %d received %d messages", i, len(got))
		}
	}
}

func TestPublishExcludesOriginator(t *testing.T) {
	h := New(logx.Nop())
	a, b, c := newTestClient(h), newTestClient(h), newTestClient(h)
	h.Register(a)
	h.Register(b)
	h.Register(c)

	n := h.Publish([]byte(`{"type":"update"}`), a)
	if n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	if got := drain(a); len(got) != 0 {
		t.Errorf("originator received its own broadcast")
	}
	if len(drain(b)) != 1 || len(drain(c)) != 1 {
		t.Error("other clients missed the broadcast")
	}
}

func TestPublishSkipsNonOpenClients(t *testing.T) {
	h := New(logx.Nop())
	open := newTestClient(h)
	connecting := NewClient(h, nil, logx.Nop()) // still in handshake
	h.Register(open)
	h.Register(connecting)

	n := h.Publish([]byte(`x`), nil)
	if n != 1 {
		t.Fatalf("delivered = %d, want 1 (connecting client skipped)", n)
	}
	if len(drain(connecting)) != 0 {
		t.Error("connecting client must not receive broadcasts")
	}
}

func TestPublishDropsClientWithFullBuffer(t *testing.T) {
	h := New(logx.Nop())
	slow := newTestClient(h)
	ok := newTestClient(h)
	h.Register(slow)
	h.Register(ok)

	for i := 0; i < sendBufferSize; i++ {
		if !slow.enqueue([]byte(`fill`)) {
			t.Fatalf("prefill failed at %d", i)
		}
	}

	n := h.Publish([]byte(`x`), nil)
	if n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if h.Len() != 1 {
		t.Fatalf("registry size = %d, want slow client dropped", h.Len())
	}
	if slow.State() != StateClosing {
		t.Errorf("slow client state = %v, want closing", slow.State())
	}
}

// A client disconnecting in the middle of a broadcast closes its send
// channel from its own goroutine; Publish running concurrently must refuse
// the enqueue instead of panicking on the closed channel.
func TestPublishSurvivesConcurrentDisconnect(t *testing.T) {
	h := New(logx.Nop())
	stop := make(chan struct{})
	var publishers, churn sync.WaitGroup

	for i := 0; i < 4; i++ {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					h.Publish([]byte(`{"type":"update","data":{}}`), nil)
				}
			}
		}()
	}

	for i := 0; i < 4; i++ {
		churn.Add(1)
		go func() {
			defer churn.Done()
			for j := 0; j < 500; j++ {
				c := newTestClient(h)
				h.Register(c)
				done := make(chan struct{})
				go func() {
					h.Unregister(c)
					close(done)
				}()
				<-done
			}
		}()
	}

	churn.Wait()
	close(stop)
	publishers.Wait()

	if h.Len() != 0 {
		t.Fatalf("registry size = %d after churn", h.Len())
	}
}

func TestSendRefusedAfterShutdown(t *testing.T) {
	h := New(logx.Nop())
	c := newTestClient(h)
	h.Register(c)
	h.Unregister(c)
	if c.Send([]byte(`x`)) {
		t.Fatal("send accepted after shutdown")
	}
	if n := h.Publish([]byte(`x`), nil); n != 0 {
		t.Fatalf("delivered = %d to a shut-down client", n)
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	h := New(logx.Nop())
	c := newTestClient(h)
	h.Register(c)
	h.Unregister(c)
	h.Unregister(c) // second call must not panic (double close)
	if h.Len() != 0 {
		t.Fatalf("registry size = %d", h.Len())
	}
}

func TestDirectSendBypassesRegistry(t *testing.T) {
	h := New(logx.Nop())
	c := NewClient(h, nil, logx.Nop()) // connecting, not yet registered
	if !c.Send([]byte(`{"type":"init"}`)) {
		t.Fatal("direct send failed")
	}
	if got := drain(c); len(got) != 1 || string(got[0]) != `{"type":"init"}` {
		t.Fatalf("got %q", got)
	}
}

func TestStateStrings(t *testing.T) {
	want := map[ConnState]string{
		StateConnecting: "connecting",
		StateOpen:       "open",
		StateClosing:    "closing",
		StateClosed:     "closed",
	}
	for s, str := range want {
		if s.String() != str {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), str)
		}
	}
}
