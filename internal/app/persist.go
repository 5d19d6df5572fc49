package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"studiorelay/internal/config"
	"studiorelay/internal/eventbus"
	"studiorelay/internal/state"
	"studiorelay/pkg/logx"
)

// ficheDoc is the mirrored document name for the fiche store; the
// persistent slots mirror under their own names.
const ficheDoc = "fiches"

// hydrate restores persisted documents into memory before the relay loop
// starts, so the first init snapshot already carries them.
func (a *App) hydrate(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	for _, slot := range state.Slots() {
		if !slot.Persistent() {
			continue
		}
		doc, ok, err := a.store.LoadDoc(ctx, string(slot))
		if err != nil {
			return fmt.Errorf("hydrate %s: %w", slot, err)
		}
		if !ok {
			continue
		}
		if _, err := a.state.Set(slot, doc); err != nil {
			return fmt.Errorf("hydrate %s: %w", slot, err)
		}
		a.log.Debug("slot restored", logx.String("slot", string(slot)))
	}

	doc, ok, err := a.store.LoadDoc(ctx, ficheDoc)
	if err != nil {
		return fmt.Errorf("hydrate fiches: %w", err)
	}
	if ok {
		if err := a.fiches.Hydrate(doc); err != nil {
			// A corrupt mirror must not keep the relay down.
			a.log.Warn("fiche mirror unreadable, starting empty", logx.Err(err))
		}
	}
	return nil
}

// startMirror wires the event-driven mirror writes and the periodic
// snapshot flush. Both are best-effort: a failed write is logged and the
// in-memory value stands.
func (a *App) startMirror(ctx context.Context) {
	if a.store == nil {
		return
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("storage.mirror", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.mirrorEvent(c, e)
			}
		}
	})

	every, err := a.snapshotEvery()
	if err != nil || every <= 0 {
		return
	}
	spec := fmt.Sprintf("@every %s", every)
	if _, err := a.cron.AddFunc(spec, func() { a.flushAll(ctx) }); err != nil {
		a.log.Warn("snapshot job not scheduled", logx.Err(err))
		return
	}
	a.cron.Start()
	a.log.Info("snapshot job scheduled", logx.Duration("every", every))
}

func (a *App) snapshotEvery() (time.Duration, error) {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return 0, nil
	}
	return config.ParseDurationField("storage.snapshot_every", cfg.Storage.SnapshotEvery)
}

func (a *App) mirrorEvent(ctx context.Context, e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeSlotUpdated:
		name, _ := e.Data.(string)
		slot := state.Slot(name)
		if !slot.Valid() || !slot.Persistent() {
			return
		}
		a.saveDoc(ctx, string(slot), func() json.RawMessage { return a.state.Get(slot) })
	case eventbus.TypeFicheSaved:
		a.saveDoc(ctx, ficheDoc, a.fiches.Document)
	}
}

// flushAll writes every mirrored document, catching up on any event the
// bus dropped.
func (a *App) flushAll(ctx context.Context) {
	if a.store == nil {
		return
	}
	for _, slot := range state.Slots() {
		if !slot.Persistent() {
			continue
		}
		a.saveDoc(ctx, string(slot), func() json.RawMessage { return a.state.Get(slot) })
	}
	a.saveDoc(ctx, ficheDoc, a.fiches.Document)
}

func (a *App) saveDoc(ctx context.Context, name string, load func() json.RawMessage) {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.store.SaveDoc(wctx, name, load()); err != nil {
		a.log.Warn("mirror write failed", logx.String("doc", name), logx.Err(err))
	}
}
