package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"studiorelay/internal/eventbus"
	"studiorelay/internal/fiche"
	"studiorelay/internal/media"
	"studiorelay/internal/notify"
	"studiorelay/internal/relay"
	"studiorelay/internal/state"
	"studiorelay/pkg/logx"
)

// maxBodyBytes bounds JSON request bodies; uploads use their own limit.
const maxBodyBytes = 1 << 20

const maxUploadBytes = 512 << 20

func readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return nil, false
	}
	return body, true
}

// slotReader serves the current value of one document slot.
func (s *Server) slotReader(slot state.Slot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeRaw(w, s.State.Get(slot))
	}
}

// slotWriter routes a one-shot body through the update router. The nil
// originator means the fan-out reaches every connection.
func (s *Server) slotWriter(kind relay.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		if err := s.Relay.Submit(r.Context(), relay.Message{Type: kind, Data: body}); err != nil {
			s.writeRelayError(w, err)
			return
		}
		writeOK(w)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var content struct {
		Titre string `json:"titre"`
	}
	_ = json.Unmarshal(s.State.Get(state.SlotContent), &content)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body><h1>studiorelay</h1><p>clients: %d</p><p>titre: %s</p></body></html>\n",
		s.Hub.Len(), content.Titre)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.State.History())
}

func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid history id"))
		return
	}
	if !s.State.DeleteHistory(id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("history entry %d not found", id))
		return
	}
	writeOK(w)
}

func (s *Server) handleFicheList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Fiches.List())
}

func (s *Server) handleFicheGet(w http.ResponseWriter, r *http.Request) {
	f, ok := s.Fiches.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("fiche not found"))
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleFicheUpsert(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var f fiche.Fiche
	if err := json.Unmarshal(body, &f); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid fiche: %w", err))
		return
	}
	if f.Titre == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("fiche titre is required"))
		return
	}

	saved, created := s.Fiches.Upsert(f)
	s.markFichesDirty()

	data, err := json.Marshal(saved)
	if err == nil {
		err = s.Relay.Submit(r.Context(), relay.Message{Type: relay.KindFiche, Data: data})
	}
	if err != nil {
		s.Log.Warn("fiche fan-out failed", logx.String("id", saved.ID), logx.Err(err))
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, saved)
}

func (s *Server) handleFicheDelete(w http.ResponseWriter, r *http.Request) {
	if !s.Fiches.Delete(mux.Vars(r)["id"]) {
		writeError(w, http.StatusNotFound, fmt.Errorf("fiche not found"))
		return
	}
	s.markFichesDirty()
	writeOK(w)
}

func (s *Server) markFichesDirty() {
	if s.Bus != nil {
		s.Bus.Publish(eventbus.Event{Type: eventbus.TypeFicheSaved})
	}
}

// handleSendFiche pushes a fiche summary to the operator channel and
// answers with the matching calendar invite. The body is either a full
// fiche or `{"id": "..."}` referencing a stored one.
func (s *Server) handleSendFiche(w http.ResponseWriter, r *http.Request) {
	if s.Sender == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("notifications not configured"))
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var f fiche.Fiche
	if err := json.Unmarshal(body, &f); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid fiche: %w", err))
		return
	}
	if f.Titre == "" && f.ID != "" {
		stored, found := s.Fiches.Get(f.ID)
		if !found {
			writeError(w, http.StatusNotFound, fmt.Errorf("fiche not found"))
			return
		}
		f = stored
	}
	if f.Titre == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("fiche titre is required"))
		return
	}

	if err := notify.SendFiche(r.Context(), s.Sender, f); err != nil {
		s.Log.Error("fiche notification failed", logx.Err(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.Calendar.Invite(f))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.Uploads == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("uploads not configured"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing video part: %w", err))
		return
	}
	defer file.Close()

	saved, err := s.Uploads.Save(header.Filename, file)
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleVideosList(w http.ResponseWriter, r *http.Request) {
	if s.Uploads == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("uploads not configured"))
		return
	}
	list, err := s.Uploads.List()
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleVideoServe(w http.ResponseWriter, r *http.Request) {
	if s.Uploads == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("uploads not configured"))
		return
	}
	f, info, err := s.Uploads.Open(mux.Vars(r)["name"])
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	defer f.Close()
	http.ServeContent(w, r, info.Name, info.ModTime, f)
}

func (s *Server) handleVideoDelete(w http.ResponseWriter, r *http.Request) {
	if s.Uploads == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("uploads not configured"))
		return
	}
	if err := s.Uploads.Delete(mux.Vars(r)["name"]); err != nil {
		s.writeMediaError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleVideoProxy(w http.ResponseWriter, r *http.Request) {
	if s.Proxy == nil || !s.Proxy.Enabled() {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("video proxy not configured"))
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing id"))
		return
	}
	if err := s.Proxy.Stream(r.Context(), w, id); err != nil {
		s.Log.Warn("video proxy failed", logx.String("id", id), logx.Err(err))
		writeError(w, http.StatusBadGateway, err)
	}
}

func (s *Server) writeMediaError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, media.ErrBadName):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, media.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		s.Log.Error("media operation failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}
