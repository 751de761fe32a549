package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type resolveRequest struct {
	StartNumber    uint64 `json:"start_number"`
	EndNumber      uint64 `json:"end_number"`
	IsSingleNumber *bool  `json:"is_single_number"`
}

func (s *Server) resolveRange(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.EndNumber < req.StartNumber {
		writeError(w, http.StatusBadRequest, "end_number must be >= start_number")
		return
	}
	span := req.EndNumber - req.StartNumber + 1
	if maxSpan := uint64(s.cfg.Resolver.MaxRangeSpan); maxSpan > 0 && span > maxSpan {
		writeError(w, http.StatusBadRequest,
			"requested range exceeds the maximum span of "+strconv.FormatUint(maxSpan, 10))
		return
	}

	single := req.StartNumber == req.EndNumber
	if req.IsSingleNumber != nil {
		single = *req.IsSingleNumber
	}

	results, err := s.resolver.Resolve(r.Context(), req.StartNumber, req.EndNumber, single, clientIdentity(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, results)
}

func (s *Server) generateOne(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.ParseUint(chi.URLParam(r, "number"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid number")
		return
	}

	result := s.resolver.Generate(r.Context(), number)
	if result.ImageURL == "" {
		writeError(w, http.StatusBadGateway, result.FailureReason)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) proxyImage(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url query parameter required")
		return
	}

	result, err := s.proxy.Fetch(r.Context(), rawURL)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeData(w, http.StatusOK, result)
}
