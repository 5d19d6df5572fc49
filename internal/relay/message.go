package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error taxonomy for inbound updates. Validation and not-found errors are
// reported to one-shot callers and mutate nothing; on a duplex channel they
// are logged and the frame discarded, the connection stays open.
var (
	ErrValidation  = errors.New("invalid update")
	ErrNotFound    = errors.New("not found")
	ErrUnknownKind = errors.New("unknown message kind")
)

// Kind tags an update message. The set is closed: unknown kinds are
// rejected distinctly from malformed payloads of known kinds.
type Kind string

const (
	// Content replacement; the only kind that feeds the history log.
	KindUpdate Kind = "update"

	// Graph/scene settings replacement. Two wire names for the same
	// operation; older controllers send "settings".
	KindSettings      Kind = "settings"
	KindGraphSettings Kind = "graph_settings"

	// Transient focus-index change; mutates no slot.
	KindFocus Kind = "focus"

	// Alert list operations (by-identity, not whole-slot).
	KindAlertCreate Kind = "alert_create"
	KindAlertStatus Kind = "alert_status"

	// Whole-slot replacements.
	KindStudioAlerts Kind = "studio_alerts"
	KindStudio2027   Kind = "studio2027"
	KindDashboard    Kind = "dashboard"

	// Passthrough kind: the originator receives its own echo back, required
	// for multi-viewer consistency when the origin itself renders the state.
	KindNowPlaying Kind = "now_playing"

	// Not accepted on the duplex channel (known() excludes them): init is
	// emitted once per handshake, fiche announcements originate from the
	// REST fiche endpoints.
	KindInit  Kind = "init"
	KindFiche Kind = "fiche"
)

// Policy is the fan-out rule for one update kind. Exactly one policy per
// kind; this is a first-class property, not ad hoc.
type Policy int

const (
	// PolicyExcludeOrigin delivers to every open connection except the
	// originating one.
	PolicyExcludeOrigin Policy = iota

	// PolicyAll also echoes back to the originator.
	PolicyAll
)

func (k Kind) Policy() Policy {
	if k == KindNowPlaying {
		return PolicyAll
	}
	return PolicyExcludeOrigin
}

func (k Kind) known() bool {
	switch k {
	case KindUpdate, KindSettings, KindGraphSettings, KindFocus,
		KindAlertCreate, KindAlertStatus, KindStudioAlerts, KindStudio2027,
		KindDashboard, KindNowPlaying:
		return true
	}
	return false
}

// Message is one JSON-tagged frame on the duplex channel (both directions).
type Message struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (m Message) encode() []byte {
	b, err := json.Marshal(m)
	if err != nil {
		// Message holds raw JSON; this cannot fail for accepted inputs.
		return []byte(`{}`)
	}
	return b
}

func decodeMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrValidation)
	}
	if !m.Type.known() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, m.Type)
	}
	return m, nil
}

// parseFocusIndex accepts the focus payload either as a bare integer or as
// {"index": n}.
func parseFocusIndex(data json.RawMessage) (int, error) {
	var idx int
	if err := json.Unmarshal(data, &idx); err == nil {
		return idx, nil
	}
	var obj struct {
		Index *int `json:"index"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Index != nil {
		return *obj.Index, nil
	}
	return 0, fmt.Errorf("%w: focus index missing or not an integer", ErrValidation)
}

// parseAlertStatus extracts the identity and the new status of an
// alert-status update.
func parseAlertStatus(data json.RawMessage) (id, status string, err error) {
	var obj struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if obj.ID == "" {
		return "", "", fmt.Errorf("%w: alert id is required", ErrValidation)
	}
	return obj.ID, obj.Status, nil
}
