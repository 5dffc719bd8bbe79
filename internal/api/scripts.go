package api

import (
	"net/http"
	"strings"

	"github.com/khanhnv2901/vela/internal/domain/pattern"
	"github.com/khanhnv2901/vela/internal/shared/constants"
)

const (
	defaultScriptListLimit = 50
	maxScriptListLimit     = 100
)

type identifyRequest struct {
	URL string `json:"url"`
}

type identifyBatchRequest struct {
	URLs []string `json:"urls"`
}

type identifyResult struct {
	URL        string         `json:"url"`
	Identified bool           `json:"identified"`
	Confidence float64        `json:"confidence"`
	Script     *pattern.Entry `json:"script"`
}

// handleScripts lists catalog entries. category wins over vendor, which wins
// over search.
func (s *Server) handleScripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	cat := s.cfg.Catalog.Current()
	q := r.URL.Query()

	var entries []pattern.Entry
	switch {
	case q.Get("category") != "":
		entries = cat.ByCategory(pattern.Category(strings.ToLower(q.Get("category"))))
	case q.Get("vendor") != "":
		entries = cat.ByVendor(q.Get("vendor"))
	case q.Get("search") != "":
		entries = cat.Search(q.Get("search"))
	default:
		entries = cat.Entries()
	}

	limit := queryInt(r, "limit", defaultScriptListLimit)
	if limit == 0 {
		limit = defaultScriptListLimit
	}
	if limit > maxScriptListLimit {
		limit = maxScriptListLimit
	}
	offset := queryInt(r, "offset", 0)

	total := len(entries)
	page := []pattern.Entry{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page = entries[offset:end]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scripts": page,
		"pagination": map[string]interface{}{
			"total":    total,
			"limit":    limit,
			"offset":   offset,
			"has_more": offset+limit < total,
		},
	})
}

func (s *Server) handleScriptCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"categories": s.cfg.Catalog.Current().Categories()})
}

func (s *Server) handleScriptVendors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"vendors": s.cfg.Catalog.Current().Vendors()})
}

func (s *Server) handleScriptByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	entry, ok := s.cfg.Catalog.Current().Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Script pattern not found"})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	var req identifyRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.URL) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "URL is required"})
		return
	}

	match := s.cfg.Catalog.Current().Match(req.URL)
	if !match.Identified() {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"identified": false,
			"message":    "Script not found in database",
			"url":        req.URL,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"identified": true,
		"confidence": match.Confidence,
		"script":     match.Entry,
	})
}

func (s *Server) handleIdentifyBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	var req identifyBatchRequest
	if err := decodeJSON(w, r, &req); err != nil || len(req.URLs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "URLs array is required"})
		return
	}
	if len(req.URLs) > constants.MaxBatchIdentify {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Maximum 100 URLs allowed per request"})
		return
	}

	cat := s.cfg.Catalog.Current()
	results := make([]identifyResult, 0, len(req.URLs))
	identified := 0
	for _, u := range req.URLs {
		match := cat.Match(u)
		if match.Identified() {
			identified++
		}
		results = append(results, identifyResult{
			URL:        u,
			Identified: match.Identified(),
			Confidence: match.Confidence,
			Script:     match.Entry,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":        len(req.URLs),
		"identified":   identified,
		"unidentified": len(req.URLs) - identified,
		"results":      results,
	})
}
