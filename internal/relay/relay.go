// Package relay is the update router: the single place where an inbound
// update — from a duplex connection or a one-shot request — is validated,
// applied to the shared state store, and fanned out.
//
// All mutation and fan-out ordering runs on one goroutine consuming an
// event channel: updates to a slot, the matching history append, and the
// fan-out are applied in exactly the order their events were accepted, and
// no explicit locking is needed around the apply step.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"studiorelay/internal/eventbus"
	"studiorelay/internal/hub"
	"studiorelay/internal/state"
	logx "studiorelay/pkg/logx"
)

type Service struct {
	log   logx.Logger
	store *state.Store
	hub   *hub.Hub
	bus   eventbus.Bus

	// focusSubjects is N in the valid focus range [0, N]. Hot-reloadable.
	focusSubjects atomic.Int32

	events chan event
}

// event is one unit of work for the relay loop. reply is nil for duplex
// frames (fire-and-forget); one-shot requests wait on it.
type event struct {
	origin *hub.Client
	source state.Source
	msg    Message
	attach *hub.Client
	reply  chan error
}

func New(store *state.Store, h *hub.Hub, bus eventbus.Bus, log logx.Logger, focusSubjects int) *Service {
	s := &Service{
		log:    log,
		store:  store,
		hub:    h,
		bus:    bus,
		events: make(chan event, 256),
	}
	s.focusSubjects.Store(int32(focusSubjects))
	return s
}

// SetFocusSubjects updates the focus validation range on config reload.
func (s *Service) SetFocusSubjects(n int) {
	if n > 0 {
		s.focusSubjects.Store(int32(n))
	}
}

// Run drives the relay loop until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			err := s.step(ev)
			if ev.reply != nil {
				ev.reply <- err
			} else if err != nil {
				// Duplex frame: log and discard, the channel stays open.
				s.log.Warn("frame rejected", logx.String("kind", string(ev.msg.Type)), logx.Err(err))
			}
		}
	}
}

func (s *Service) step(ev event) error {
	if ev.attach != nil {
		s.attach(ev.attach)
		return nil
	}
	return s.apply(ev.origin, ev.source, ev.msg)
}

// SubmitFrame routes one raw duplex frame. Malformed frames are logged and
// discarded here; the connection is never terminated for a bad message.
func (s *Service) SubmitFrame(ctx context.Context, origin *hub.Client, raw []byte) {
	msg, err := decodeMessage(raw)
	if err != nil {
		s.log.Warn("discarding malformed frame", logx.String("client", origin.ID()), logx.Err(err))
		return
	}
	select {
	case s.events <- event{origin: origin, source: state.SourceDuplex, msg: msg}:
	case <-ctx.Done():
	}
}

// Submit routes one update from a one-shot request and waits until it has
// been applied (or rejected).
func (s *Service) Submit(ctx context.Context, msg Message) error {
	reply := make(chan error, 1)
	select {
	case s.events <- event{source: state.SourceRequest, msg: msg, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach completes a connection handshake on the relay loop: capture the
// slot snapshot, queue the init message, mark the connection open, register
// it. Running this on the loop guarantees the snapshot plus subsequent
// broadcasts form a gapless view of every slot.
func (s *Service) Attach(ctx context.Context, c *hub.Client) error {
	reply := make(chan error, 1)
	select {
	case s.events <- event{attach: c, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) attach(c *hub.Client) {
	snap := s.store.Snapshot()
	payload := make(map[string]json.RawMessage, len(snap))
	for slot, v := range snap {
		payload[string(slot)] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("snapshot encode failed", logx.Err(err))
		data = []byte(`{}`)
	}
	c.Send(Message{Type: KindInit, Data: data}.encode())
	c.MarkOpen()
	s.hub.Register(c)
}

// apply validates and applies one update, then fans it out according to the
// kind's policy.
func (s *Service) apply(origin *hub.Client, source state.Source, msg Message) error {
	switch msg.Type {
	case KindUpdate:
		if !json.Valid(msg.Data) || len(msg.Data) == 0 {
			return fmt.Errorf("%w: content payload is not valid JSON", ErrValidation)
		}
		if _, err := s.store.Set(state.SlotContent, msg.Data); err != nil {
			return err
		}
		e := s.store.AppendHistory(source, msg.Data)
		s.log.Debug("content updated", logx.Uint64("entry", e.ID), logx.String("source", string(source)))
		s.fanOut(origin, msg)
		return nil

	case KindSettings, KindGraphSettings:
		stamped := state.StampUpdatedAt(msg.Data, time.Now())
		if _, err := s.store.Set(state.SlotGraph, stamped); err != nil {
			return err
		}
		s.fanOut(origin, Message{Type: msg.Type, Data: stamped})
		return nil

	case KindFocus:
		idx, err := parseFocusIndex(msg.Data)
		if err != nil {
			return err
		}
		maxIdx := int(s.focusSubjects.Load())
		if idx < 0 || idx > maxIdx {
			return fmt.Errorf("%w: focus index %d outside [0,%d]", ErrValidation, idx, maxIdx)
		}
		// Focus is transient presentation state: no slot is mutated.
		data, _ := json.Marshal(idx)
		s.fanOut(origin, Message{Type: KindFocus, Data: data})
		return nil

	case KindAlertCreate:
		created, err := s.store.CreateAlert(msg.Data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if created {
			s.markDirty(state.SlotAlerts)
		}
		s.fanOut(origin, msg)
		return nil

	case KindAlertStatus:
		id, status, err := parseAlertStatus(msg.Data)
		if err != nil {
			return err
		}
		found, err := s.store.SetAlertStatus(id, status)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if found {
			s.markDirty(state.SlotAlerts)
		} else {
			// Unknown id: the mutation no-ops but the event is still
			// forwarded verbatim. Clients depend on receiving it.
			s.log.Debug("alert status update for unknown id", logx.String("id", id))
		}
		s.fanOut(origin, msg)
		return nil

	case KindStudioAlerts:
		return s.replaceSlot(origin, state.SlotAlerts, msg)

	case KindStudio2027:
		return s.replaceSlot(origin, state.SlotStudio2027, msg)

	case KindDashboard:
		// Replaced verbatim, shape unchecked.
		return s.replaceSlot(origin, state.SlotDashboard, msg)

	case KindNowPlaying:
		if _, err := s.store.Set(state.SlotNowPlaying, msg.Data); err != nil {
			return err
		}
		s.fanOut(origin, msg)
		return nil

	case KindFiche:
		// Pure fan-out: the fiche store already holds the record.
		s.fanOut(origin, msg)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, msg.Type)
}

func (s *Service) replaceSlot(origin *hub.Client, slot state.Slot, msg Message) error {
	if !json.Valid(msg.Data) || len(msg.Data) == 0 {
		return fmt.Errorf("%w: payload is not valid JSON", ErrValidation)
	}
	if _, err := s.store.Set(slot, msg.Data); err != nil {
		return err
	}
	if slot.Persistent() {
		s.markDirty(slot)
	}
	s.fanOut(origin, msg)
	return nil
}

// fanOut serializes once and delivers per the kind's policy.
func (s *Service) fanOut(origin *hub.Client, msg Message) {
	except := origin
	if msg.Type.Policy() == PolicyAll {
		except = nil
	}
	n := s.hub.Publish(msg.encode(), except)
	s.log.Debug("fan-out", logx.String("kind", string(msg.Type)), logx.Int("delivered", n))
}

// markDirty notifies the persistence worker that a mirrored slot changed.
// Non-blocking; the periodic snapshot job catches anything dropped.
func (s *Service) markDirty(slot state.Slot) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeSlotUpdated, Data: string(slot)})
}
