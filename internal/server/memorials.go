package server

import (
	"errors"
	"net/http"

	"github.com/MrWong99/memoria/internal/memorial"
)

func (s *Server) handleListMemorials(w http.ResponseWriter, r *http.Request) {
	list, err := s.cfg.Catalog.List(r.Context())
	if err != nil {
		s.log.Error("list memorials", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list memorials")
		return
	}
	if list == nil {
		list = []memorial.Memorial{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetMemorial(w http.ResponseWriter, r *http.Request) {
	m, ok := s.findMemorial(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// findMemorial resolves the {id} path value. On failure it writes the error
// response and returns false.
func (s *Server) findMemorial(w http.ResponseWriter, r *http.Request) (*memorial.Memorial, bool) {
	ref := r.PathValue("id")
	m, err := memorial.Find(r.Context(), s.cfg.Catalog, ref)
	switch {
	case err == nil:
		return m, true
	case errors.Is(err, memorial.ErrNotFound):
		writeError(w, http.StatusNotFound, "memorial not found")
	default:
		s.log.Error("find memorial", "ref", ref, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load memorial")
	}
	return nil, false
}
