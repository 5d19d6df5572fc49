// Package httpapi exposes the REST and WebSocket surface of the relay.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"studiorelay/internal/eventbus"
	"studiorelay/internal/fiche"
	"studiorelay/internal/hub"
	"studiorelay/internal/media"
	"studiorelay/internal/notify"
	"studiorelay/internal/relay"
	"studiorelay/internal/state"
	"studiorelay/pkg/logx"
)

// Deps are the collaborators behind the HTTP surface. Uploads, Proxy and
// Sender may be nil or disabled; the matching endpoints then answer 503.
type Deps struct {
	Log      logx.Logger
	Relay    *relay.Service
	State    *state.Store
	Hub      *hub.Hub
	Fiches   *fiche.Store
	Uploads  *media.Uploads
	Proxy    *media.Proxy
	Sender   notify.Sender
	Calendar *notify.Calendar
	Bus      eventbus.Bus
}

type Server struct {
	Deps
}

func New(d Deps) *Server {
	if d.Calendar == nil {
		d.Calendar = notify.NewCalendar()
	}
	return &Server{Deps: d}
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, w, req)
			s.Log.Debug("handled",
				logx.String("method", req.Method),
				logx.String("path", req.URL.Path),
				logx.Int("status", m.Code),
				logx.Duration("duration", m.Duration))
		})
	})

	r.Methods(http.MethodGet).Path("/").HandlerFunc(s.handleStatus)
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.handleWS)

	r.Methods(http.MethodGet).Path("/api/data").HandlerFunc(s.slotReader(state.SlotContent))
	r.Methods(http.MethodPost).Path("/api/data").HandlerFunc(s.slotWriter(relay.KindUpdate))
	r.Methods(http.MethodPost).Path("/api/update").HandlerFunc(s.slotWriter(relay.KindUpdate))

	r.Methods(http.MethodGet).Path("/api/history").HandlerFunc(s.handleHistory)
	r.Methods(http.MethodDelete).Path("/api/history/{id}").HandlerFunc(s.handleHistoryDelete)

	r.Methods(http.MethodPost).Path("/api/focus").HandlerFunc(s.slotWriter(relay.KindFocus))

	r.Methods(http.MethodGet).Path("/api/graph").HandlerFunc(s.slotReader(state.SlotGraph))
	r.Methods(http.MethodPost).Path("/api/graph").HandlerFunc(s.slotWriter(relay.KindGraphSettings))

	r.Methods(http.MethodGet).Path("/api/studio2027").HandlerFunc(s.slotReader(state.SlotStudio2027))
	r.Methods(http.MethodPost).Path("/api/studio2027").HandlerFunc(s.slotWriter(relay.KindStudio2027))
	r.Methods(http.MethodGet).Path("/api/studio-alerts").HandlerFunc(s.slotReader(state.SlotAlerts))
	r.Methods(http.MethodPost).Path("/api/studio-alerts").HandlerFunc(s.slotWriter(relay.KindStudioAlerts))
	r.Methods(http.MethodGet).Path("/api/dev-dashboard").HandlerFunc(s.slotReader(state.SlotDashboard))
	r.Methods(http.MethodPost).Path("/api/dev-dashboard").HandlerFunc(s.slotWriter(relay.KindDashboard))

	r.Methods(http.MethodGet).Path("/api/fiches").HandlerFunc(s.handleFicheList)
	r.Methods(http.MethodPost).Path("/api/fiches").HandlerFunc(s.handleFicheUpsert)
	r.Methods(http.MethodGet).Path("/api/fiches/{id}").HandlerFunc(s.handleFicheGet)
	r.Methods(http.MethodDelete).Path("/api/fiches/{id}").HandlerFunc(s.handleFicheDelete)
	r.Methods(http.MethodPost).Path("/api/send-fiche").HandlerFunc(s.handleSendFiche)

	r.Methods(http.MethodPost).Path("/api/upload-video").HandlerFunc(s.handleUpload)
	r.Methods(http.MethodGet).Path("/api/videos-list").HandlerFunc(s.handleVideosList)
	r.Methods(http.MethodGet).Path("/api/videos/{name}").HandlerFunc(s.handleVideoServe)
	r.Methods(http.MethodDelete).Path("/api/videos/{name}").HandlerFunc(s.handleVideoDelete)
	r.Methods(http.MethodGet).Path("/api/video").HandlerFunc(s.handleVideoProxy)

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeRelayError maps router rejections onto HTTP status codes.
func (s *Server) writeRelayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrValidation), errors.Is(err, relay.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, relay.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		s.Log.Error("update failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}
