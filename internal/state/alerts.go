package state

import (
	"encoding/json"
	"fmt"
)

// Alerts are the one slot that is not purely replace-wholesale: records are
// addressed by id. Payloads stay duck-typed (unknown fields are preserved),
// only "id" and "status" are interpreted.

// alertID extracts the "id" field of an alert payload.
func alertID(raw json.RawMessage) (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", err
	}
	if probe.ID == "" {
		return "", fmt.Errorf("alert payload has no id")
	}
	return probe.ID, nil
}

// CreateAlert prepends the alert to the alerts slot unless an alert with the
// same id already exists (idempotent create by id). It reports whether the
// slot was mutated.
func (s *Store) CreateAlert(raw json.RawMessage) (bool, error) {
	id, err := alertID(raw)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.decodeAlertsLocked()
	if err != nil {
		return false, err
	}
	for _, a := range list {
		if existing, err := alertID(a); err == nil && existing == id {
			return false, nil
		}
	}
	list = append([]json.RawMessage{raw}, list...)
	return true, s.encodeAlertsLocked(list)
}

// SetAlertStatus replaces the status field of the alert with the given id,
// preserving every other field. It reports whether an alert was found;
// a miss is not an error (the caller forwards the event regardless).
func (s *Store) SetAlertStatus(id, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.decodeAlertsLocked()
	if err != nil {
		return false, err
	}
	for i, a := range list {
		existing, err := alertID(a)
		if err != nil || existing != id {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(a, &m); err != nil {
			return false, err
		}
		m["status"] = status
		b, err := json.Marshal(m)
		if err != nil {
			return false, err
		}
		list[i] = b
		return true, s.encodeAlertsLocked(list)
	}
	return false, nil
}

func (s *Store) decodeAlertsLocked() ([]json.RawMessage, error) {
	raw := s.slots[SlotAlerts]
	if len(raw) == 0 {
		return nil, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("alerts slot corrupt: %w", err)
	}
	return list, nil
}

func (s *Store) encodeAlertsLocked(list []json.RawMessage) error {
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	s.slots[SlotAlerts] = b
	return nil
}
