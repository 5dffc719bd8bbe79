package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khanhnv2901/vela/internal/api/middleware"
	"github.com/khanhnv2901/vela/internal/domain/scan"
	"github.com/khanhnv2901/vela/internal/infrastructure/events"
	sharedErrors "github.com/khanhnv2901/vela/internal/shared/errors"
)

const (
	defaultScanListLimit = 10
	maxScanListLimit     = 50
)

type scanRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateScan(w, r)
	case http.MethodGet:
		s.handleListScans(w, r)
	default:
		s.methodNotAllowed(w, r)
	}
}

func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "URL is required"})
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "URL is required"})
		return
	}

	clientID := ClientIP(r, s.cfg.TrustedProxies)
	admission, err := s.cfg.Scans.RequestScan(r.Context(), req.URL, clientID)
	s.setQuotaHeaders(r.Context(), w, clientID)
	if err != nil {
		switch {
		case errors.Is(err, sharedErrors.ErrInvalidURL):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid URL format"})
		case errors.Is(err, sharedErrors.ErrRateLimited):
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":   "Rate limit exceeded",
				"message": "Please wait before making another request",
			})
		default:
			s.requestLogger(r).Error("scan_create_failed", zap.String("url", req.URL), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error":     "Failed to create scan",
				"requestId": middleware.GetRequestID(r.Context()),
			})
		}
		return
	}

	if admission.Cached {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":      admission.ID,
			"status":  admission.Status,
			"cached":  true,
			"message": "Recent scan found in cache",
		})
		return
	}

	w.Header().Set("Location", "/scans/"+admission.ID)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":      admission.ID,
		"status":  admission.Status,
		"message": "Scan queued successfully",
	})
}

// setQuotaHeaders reports the caller's admission window. Failures to read the
// window leave the headers out.
func (s *Server) setQuotaHeaders(ctx context.Context, w http.ResponseWriter, clientID string) {
	if s.cfg.Quota == nil {
		return
	}
	rem, err := s.cfg.Quota.Remaining(ctx, clientID)
	if err != nil {
		s.cfg.Logger.Debug("quota_lookup_failed", zap.String("client", clientID), zap.Error(err))
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(s.cfg.Quota.Max()))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(rem.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(rem.ResetAt.Unix(), 10))
	if rem.Remaining == 0 {
		wait := int(math.Ceil(time.Until(rem.ResetAt).Seconds()))
		if wait < 1 {
			wait = 1
		}
		h.Set("Retry-After", strconv.Itoa(wait))
	}
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultScanListLimit)
	if limit == 0 {
		limit = defaultScanListLimit
	}
	if limit > maxScanListLimit {
		limit = maxScanListLimit
	}
	offset := queryInt(r, "offset", 0)

	records, err := s.cfg.Scans.ListScans(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	out := make([]scan.Snapshot, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scans": out,
		"pagination": map[string]interface{}{
			"limit":    limit,
			"offset":   offset,
			"has_more": len(records) == limit,
		},
	})
}

func (s *Server) handleScanByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}

	id := r.PathValue("id")
	if !validScanID(id) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid scan ID format"})
		return
	}

	record, err := s.cfg.Scans.GetScan(r.Context(), id)
	if err != nil {
		if errors.Is(err, sharedErrors.ErrScanNotFound) || errors.Is(err, sharedErrors.ErrInvalidScanID) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Scan not found"})
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, record.Snapshot())
}

// validScanID accepts only the canonical 36-character UUID form
func validScanID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// handleScanStream pushes scan status changes as server-sent events. The
// stream opens with the most recent known state of each scan.
func (s *Server) handleScanStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	if s.cfg.Events == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, errors.New("event stream not configured"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	updates, unsubscribe := s.cfg.Events.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	logger := s.requestLogger(r)

	for _, ev := range s.cfg.Events.Recent(queryInt(r, "recent", 50)) {
		if !writeStreamEvent(w, flusher, logger, ev) {
			return
		}
	}

	keepAlive := time.NewTicker(s.cfg.StreamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if !writeStreamEvent(w, flusher, logger, ev) {
				return
			}
		}
	}
}

func writeStreamEvent(w http.ResponseWriter, flusher http.Flusher, logger *zap.Logger, ev events.ScanEvent) bool {
	if err := writeStreamChunk(w, "scan", ev); err != nil {
		logger.Debug("stream_write_failed", zap.String("scan_id", ev.ScanID), zap.Error(err))
		return false
	}
	flusher.Flush()
	return true
}
