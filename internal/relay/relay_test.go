package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"studiorelay/internal/eventbus"
	"studiorelay/internal/hub"
	"studiorelay/internal/state"
	logx "studiorelay/pkg/logx"
)

type fixture struct {
	store  *state.Store
	hub    *hub.Hub
	bus    eventbus.Bus
	svc    *Service
	cancel context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := state.NewStore()
	h := hub.New(logx.Nop())
	bus := eventbus.New()
	svc := New(store, h, bus, logx.Nop(), 4)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = svc.Run(ctx) }()
	t.Cleanup(cancel)
	return &fixture{store: store, hub: h, bus: bus, svc: svc, cancel: cancel}
}

// attach runs the handshake and returns the client plus its queued init
// message.
func (f *fixture) attach(t *testing.T) (*hub.Client, Message) {
	t.Helper()
	c := hub.NewClient(f.hub, nil, logx.Nop())
	if err := f.svc.Attach(context.Background(), c); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	msgs := drainClient(t, c)
	if len(msgs) != 1 {
		t.Fatalf("handshake queued %d messages, want exactly 1 init", len(msgs))
	}
	return c, msgs[0]
}

func drainClient(t *testing.T, c *hub.Client) []Message {
	t.Helper()
	var out []Message
	for {
		select {
		case data := <-c.Outbox():
			var m Message
			if err := json.Unmarshal(data, &m); err != nil {
				t.Fatalf("queued frame not a message: %v", err)
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func submit(t *testing.T, f *fixture, kind Kind, data string) {
	t.Helper()
	if err := f.svc.Submit(context.Background(), Message{Type: kind, Data: json.RawMessage(data)}); err != nil {
		t.Fatalf("submit %s: %v", kind, err)
	}
}

func TestContentUpdateLastWriteWins(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 3; i++ {
		submit(t, f, KindUpdate, fmt.Sprintf(`{"titre":"v%d"}`, i))
	}
	if got := string(f.store.Get(state.SlotContent)); got != `{"titre":"v3"}` {
		t.Errorf("content = %s", got)
	}
	h := f.store.History()
	if len(h) != 3 {
		t.Fatalf("history length = %d", len(h))
	}
	if h[0].Source != state.SourceRequest {
		t.Errorf("head source = %q, want request", h[0].Source)
	}
	if string(h[0].Data) != `{"titre":"v3"}` {
		t.Errorf("head data = %s", h[0].Data)
	}
}

func TestInitSnapshotBeforeAnyBroadcast(t *testing.T) {
	f := newFixture(t)
	submit(t, f, KindUpdate, `{"titre":"pre"}`)

	c, initMsg := f.attach(t)
	if initMsg.Type != KindInit {
		t.Fatalf("first message type = %q, want init", initMsg.Type)
	}
	var slots map[string]json.RawMessage
	if err := json.Unmarshal(initMsg.Data, &slots); err != nil {
		t.Fatalf("init payload: %v", err)
	}
	for _, slot := range state.Slots() {
		if _, ok := slots[string(slot)]; !ok {
			t.Errorf("init snapshot missing slot %q", slot)
		}
	}
	if string(slots["content"]) != `{"titre":"pre"}` {
		t.Errorf("init content = %s", slots["content"])
	}

	// Broadcasts arrive only after the init message.
	submit(t, f, KindUpdate, `{"titre":"post"}`)
	msgs := drainClient(t, c)
	if len(msgs) != 1 || msgs[0].Type != KindUpdate {
		t.Fatalf("post-init messages = %+v", msgs)
	}
}

func TestUpdateExcludesOriginator(t *testing.T) {
	f := newFixture(t)
	a, _ := f.attach(t)
	b, _ := f.attach(t)
	c, _ := f.attach(t)

	f.svc.SubmitFrame(context.Background(), a, []byte(`{"type":"update","data":{"titre":"from A"}}`))
	waitForHistory(t, f.store, 1)

	if msgs := drainClient(t, a); len(msgs) != 0 {
		t.Errorf("originator got %d messages, want 0", len(msgs))
	}
	for name, cl := range map[string]*hub.Client{"b": b, "c": c} {
		msgs := drainClient(t, cl)
		if len(msgs) != 1 || msgs[0].Type != KindUpdate {
			t.Errorf("client %s messages = %+v", name, msgs)
		}
	}
	// Duplex origin is recorded in history.
	if h := f.store.History(); h[0].Source != state.SourceDuplex {
		t.Errorf("source = %q, want duplex", h[0].Source)
	}
}

func TestNowPlayingEchoesToOriginator(t *testing.T) {
	f := newFixture(t)
	a, _ := f.attach(t)
	b, _ := f.attach(t)

	f.svc.SubmitFrame(context.Background(), a, []byte(`{"type":"now_playing","data":{"track":"intro"}}`))
	waitForSlot(t, f.store, state.SlotNowPlaying, `{"track":"intro"}`)

	for name, cl := range map[string]*hub.Client{"a (origin)": a, "b": b} {
		msgs := drainClient(t, cl)
		if len(msgs) != 1 || msgs[0].Type != KindNowPlaying {
			t.Errorf("client %s messages = %+v", name, msgs)
		}
	}
}

func TestFocusValidation(t *testing.T) {
	f := newFixture(t) // subjects N = 4, valid range [0,4]
	a, _ := f.attach(t)

	err := f.svc.Submit(context.Background(), Message{Type: KindFocus, Data: json.RawMessage(`7`)})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if msgs := drainClient(t, a); len(msgs) != 0 {
		t.Errorf("rejected focus still fanned out: %+v", msgs)
	}

	submit(t, f, KindFocus, `4`)
	msgs := drainClient(t, a)
	if len(msgs) != 1 || msgs[0].Type != KindFocus || string(msgs[0].Data) != `4` {
		t.Fatalf("focus messages = %+v", msgs)
	}
}

func TestFocusAcceptsObjectPayload(t *testing.T) {
	f := newFixture(t)
	submit(t, f, KindFocus, `{"index":2}`)

	err := f.svc.Submit(context.Background(), Message{Type: KindFocus, Data: json.RawMessage(`{"position":2}`)})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want validation error for missing index", err)
	}
}

func TestSettingsStampedAndBroadcast(t *testing.T) {
	f := newFixture(t)
	a, _ := f.attach(t)

	submit(t, f, KindGraphSettings, `{"zoom":3}`)

	var graph map[string]any
	if err := json.Unmarshal(f.store.Get(state.SlotGraph), &graph); err != nil {
		t.Fatal(err)
	}
	if graph["zoom"] != float64(3) {
		t.Errorf("graph = %v", graph)
	}
	if _, ok := graph["updatedAt"].(string); !ok {
		t.Errorf("graph missing updatedAt stamp: %v", graph)
	}
	// No history for settings updates.
	if len(f.store.History()) != 0 {
		t.Error("settings update must not append history")
	}
	msgs := drainClient(t, a)
	if len(msgs) != 1 || msgs[0].Type != KindGraphSettings {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestAlertCreateIdempotentButAlwaysForwarded(t *testing.T) {
	f := newFixture(t)
	a, _ := f.attach(t)

	submit(t, f, KindAlertCreate, `{"id":"a1","status":"open"}`)
	submit(t, f, KindAlertCreate, `{"id":"a1","status":"open"}`)

	var list []map[string]any
	_ = json.Unmarshal(f.store.Get(state.SlotAlerts), &list)
	if len(list) != 1 {
		t.Fatalf("alerts = %v, want exactly one a1", list)
	}
	if msgs := drainClient(t, a); len(msgs) != 2 {
		t.Errorf("forwarded %d alert_create events, want 2", len(msgs))
	}
}

func TestAlertStatusUnknownIDStillForwards(t *testing.T) {
	f := newFixture(t)
	a, _ := f.attach(t)

	submit(t, f, KindAlertStatus, `{"id":"ghost","status":"done"}`)

	if got := string(f.store.Get(state.SlotAlerts)); got != `[]` {
		t.Errorf("alerts mutated: %s", got)
	}
	// The no-op event is still forwarded verbatim; clients depend on it.
	msgs := drainClient(t, a)
	if len(msgs) != 1 || msgs[0].Type != KindAlertStatus {
		t.Fatalf("messages = %+v", msgs)
	}
	if string(msgs[0].Data) != `{"id":"ghost","status":"done"}` {
		t.Errorf("forwarded data = %s", msgs[0].Data)
	}
}

func TestPersistentSlotUpdatePublishesDirtyEvent(t *testing.T) {
	f := newFixture(t)
	ch, unsub := f.bus.Subscribe(4)
	defer unsub()

	submit(t, f, KindAlertCreate, `{"id":"a1","status":"open"}`)

	select {
	case e := <-ch:
		if e.Type != eventbus.TypeSlotUpdated || e.Data != string(state.SlotAlerts) {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no slot.updated event published")
	}
}

func TestDashboardReplacedVerbatim(t *testing.T) {
	f := newFixture(t)
	submit(t, f, KindDashboard, `{"anything":{"goes":true}}`)
	if got := string(f.store.Get(state.SlotDashboard)); got != `{"anything":{"goes":true}}` {
		t.Errorf("dashboard = %s", got)
	}
}

func TestMalformedFrameDiscardedConnectionStaysOpen(t *testing.T) {
	f := newFixture(t)
	a, _ := f.attach(t)
	b, _ := f.attach(t)

	f.svc.SubmitFrame(context.Background(), a, []byte(`{not json`))
	f.svc.SubmitFrame(context.Background(), a, []byte(`{"type":"no_such_kind","data":{}}`))
	f.svc.SubmitFrame(context.Background(), a, []byte(`{"type":"update","data":{"titre":"still works"}}`))
	waitForHistory(t, f.store, 1)

	if a.State() != hub.StateOpen {
		t.Errorf("client state = %v after bad frames, want open", a.State())
	}
	msgs := drainClient(t, b)
	if len(msgs) != 1 || msgs[0].Type != KindUpdate {
		t.Fatalf("b messages = %+v", msgs)
	}
}

func TestUnknownKindRejectedDistinctly(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Submit(context.Background(), Message{Type: "bogus", Data: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func waitForHistory(t *testing.T, store *state.Store, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(store.History()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("history never reached %d entries", n)
}

func waitForSlot(t *testing.T, store *state.Store, slot state.Slot, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if string(store.Get(slot)) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("slot %s = %s, want %s", slot, store.Get(slot), want)
}
