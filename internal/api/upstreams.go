package api

import "net/http"

func (s *Server) handleListUpstreams(w http.ResponseWriter, _ *http.Request) {
	groups := s.upstreams.List()
	s.writeJSON(w, http.StatusOK, groups)
}
