package api

import "net/http"

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Upstreams int    `json:"upstreams"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Service:   "scatter",
		Upstreams: len(s.upstreams.List()),
	})
}
