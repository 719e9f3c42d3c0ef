package relay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/models"
)

type handlers struct {
	store *Store
	hub   *Hub
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrURLNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidActivity), errors.Is(err, ErrInvalidUser):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(v)
}

func (h *handlers) createRoom(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRoomRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	room := h.store.CreateRoom(req.RoomID)
	log.Info().Str("room_id", room.RoomID).Msg("room created")
	writeJSON(w, http.StatusCreated, room)
}

func (h *handlers) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.store.Room(chi.URLParam(r, "roomId"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *handlers) listActivities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Activities(chi.URLParam(r, "roomId")))
}

func (h *handlers) storeActivity(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")

	var a models.RoomActivity
	if err := decodeBody(w, r, &a); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stored, err := h.store.AppendActivity(roomID, a)
	switch {
	case errors.Is(err, ErrDuplicate):
		writeJSON(w, http.StatusOK, stored)
	case err != nil:
		log.Warn().Err(err).Str("room_id", roomID).Msg("rejected activity")
		writeError(w, statusFor(err), err)
	default:
		log.Debug().
			Str("room_id", roomID).
			Str("activity_id", stored.ID).
			Str("activity_type", string(stored.Type)).
			Msg("activity stored")
		writeJSON(w, http.StatusCreated, stored)
	}
}

func (h *handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Users(chi.URLParam(r, "roomId")))
}

func (h *handlers) joinRoom(w http.ResponseWriter, r *http.Request) {
	h.membership(w, r, h.store.AddUser)
}

func (h *handlers) leaveRoom(w http.ResponseWriter, r *http.Request) {
	h.membership(w, r, h.store.RemoveUser)
}

func (h *handlers) membership(w http.ResponseWriter, r *http.Request, apply func(roomID, userName string) (models.MembershipResponse, error)) {
	var req models.MembershipRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := apply(chi.URLParam(r, "roomId"), req.UserName)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getURL(w http.ResponseWriter, r *http.Request) {
	link, err := h.store.URL(chi.URLParam(r, "roomId"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, models.RoomURL{URL: link})
}

func (h *handlers) storeURL(w http.ResponseWriter, r *http.Request) {
	var req models.RoomURL
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url required"))
		return
	}
	h.store.SetURL(chi.URLParam(r, "roomId"), req.URL)
	writeJSON(w, http.StatusOK, req)
}

func (h *handlers) serveWS(w http.ResponseWriter, r *http.Request) {
	// Upgrade writes its own error response
	_ = h.hub.Upgrade(w, r, chi.URLParam(r, "roomId"))
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": h.hub.Stats()})
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
