package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrWong99/memoria/internal/chat"
	"github.com/MrWong99/memoria/internal/memorial"
)

// maxMessageBytes bounds a chat message request body.
const maxMessageBytes = 64 << 10

type chatView struct {
	ID         string            `json:"id"`
	Memorial   memorial.Memorial `json:"memorial"`
	Greeting   string            `json:"greeting,omitempty"`
	Transcript []chat.Entry      `json:"transcript"`
	Busy       bool              `json:"busy"`
	LastActive time.Time         `json:"lastActive"`
}

func viewOf(sess *chat.Session) chatView {
	v := chatView{
		ID:         sess.ID(),
		Memorial:   sess.Memorial(),
		Transcript: sess.Transcript(),
		Busy:       sess.Busy(),
		LastActive: sess.LastActive(),
	}
	if len(v.Transcript) > 0 {
		v.Greeting = v.Transcript[0].Text
	}
	return v
}

type messageRequest struct {
	Text string `json:"text"`
}

type deltaEvent struct {
	Text string `json:"text"`
}

type errorEvent struct {
	Error string     `json:"error"`
	Entry chat.Entry `json:"entry"`
}

func (s *Server) handleOpenChat(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Chats == nil {
		writeError(w, http.StatusServiceUnavailable, "text chat is not configured")
		return
	}
	sess, err := s.cfg.Chats.Open(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, viewOf(sess))
	case errors.Is(err, memorial.ErrNotFound):
		writeError(w, http.StatusNotFound, "memorial not found")
	case errors.Is(err, chat.ErrNotCallable):
		writeError(w, http.StatusConflict, "memorial is still processing")
	case errors.Is(err, chat.ErrTooManySessions):
		writeError(w, http.StatusServiceUnavailable, "too many open chats")
	default:
		s.log.Error("open chat", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to open chat")
	}
}

// chatSession resolves the {chatID} path value or writes the error response.
func (s *Server) chatSession(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	if s.cfg.Chats == nil {
		writeError(w, http.StatusServiceUnavailable, "text chat is not configured")
		return nil, false
	}
	sess, err := s.cfg.Chats.Get(r.PathValue("chatID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.chatSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleCloseChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.chatSession(w, r)
	if !ok {
		return
	}
	s.cfg.Chats.Close(sess.ID())
	w.WriteHeader(http.StatusNoContent)
}

// handleSendMessage streams the reply as server-sent events: any number of
// "delta" events, then either "done" with the final entry or "error" with the
// fallback entry. Failures detected before the first event are answered with
// a JSON error instead.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.chatSession(w, r)
	if !ok {
		return
	}

	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sw, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	entry, err := sess.Send(r.Context(), req.Text, func(delta string) {
		_ = sw.Send("delta", deltaEvent{Text: delta})
	})
	switch {
	case err == nil:
		_ = sw.Send("done", entry)
	case errors.Is(err, chat.ErrUnavailable):
		_ = sw.Send("error", errorEvent{Error: "provider unavailable", Entry: entry})
	case sw.Started() || r.Context().Err() != nil:
		// Client went away mid-stream; nothing useful left to write.
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message is empty")
	case errors.Is(err, chat.ErrBusy):
		writeError(w, http.StatusConflict, "a reply is already in progress")
	case errors.Is(err, chat.ErrClosed):
		writeError(w, http.StatusGone, "chat closed")
	default:
		s.log.Error("send chat message", "chat_id", sess.ID(), "err", err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
	}
}
