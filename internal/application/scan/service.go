package scan

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/khanhnv2901/vela/internal/domain/scan"
	"github.com/khanhnv2901/vela/internal/infrastructure/metrics"
	sharedErrors "github.com/khanhnv2901/vela/internal/shared/errors"
)

// Limiter admits or rejects a request for an identifier
type Limiter interface {
	CheckLimit(ctx context.Context, id string) (bool, error)
}

// Admission is the synchronous answer to a scan request
type Admission struct {
	ID     string
	Status scan.Status
	Cached bool
}

// Service is the admission path for new scans: validation, rate limiting,
// deduplication against recent completed scans, then a detached launch.
//
// Deduplication is best effort. The URL index only holds completed scans,
// so concurrent requests for the same URL that arrive before the first one
// completes each start their own scan.
type Service struct {
	orchestrator *Orchestrator
	limiter      Limiter
	cache        Cache
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewService creates the admission service. limiter and cache may be nil.
func NewService(o *Orchestrator, limiter Limiter, cache Cache, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		orchestrator: o,
		limiter:      limiter,
		cache:        cache,
		metrics:      m,
		logger:       logger,
	}
}

// RequestScan admits a scan of rawURL on behalf of clientID
func (s *Service) RequestScan(ctx context.Context, rawURL, clientID string) (Admission, error) {
	pageURL, err := ValidateURL(rawURL)
	if err != nil {
		s.metrics.Admission("invalid")
		return Admission{}, err
	}

	if s.limiter != nil {
		allowed, err := s.limiter.CheckLimit(ctx, clientID)
		if err != nil {
			// Limiter storage trouble should not take scanning down with it.
			s.logger.Warn("rate_limit_check_failed", zap.String("client", clientID), zap.Error(err))
		} else if !allowed {
			s.metrics.Admission("rate_limited")
			return Admission{}, sharedErrors.ErrRateLimited
		}
	}

	if s.cache != nil {
		cached, err := s.cache.GetByURL(ctx, pageURL)
		s.metrics.CacheLookup("url", cached != nil, err)
		if err != nil {
			s.logger.Warn("cache_read_failed", zap.String("url", pageURL), zap.Error(err))
		} else if cached != nil {
			s.metrics.Admission("cached")
			return Admission{ID: cached.ID(), Status: cached.Status(), Cached: true}, nil
		}
	}

	record, err := s.orchestrator.CreateScan(ctx, pageURL)
	if err != nil {
		return Admission{}, err
	}
	s.orchestrator.Launch(record.ID())
	s.metrics.Admission("queued")

	return Admission{ID: record.ID(), Status: record.Status()}, nil
}

// ValidateURL accepts absolute http and https URLs with a host
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", sharedErrors.ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", sharedErrors.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", sharedErrors.ErrInvalidURL)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", sharedErrors.ErrInvalidURL)
	}
	return raw, nil
}

// GetScan reads a scan through the orchestrator's cache-then-storage path
func (s *Service) GetScan(ctx context.Context, id string) (*scan.Record, error) {
	return s.orchestrator.GetScan(ctx, id)
}

// ListScans returns stored scans newest first
func (s *Service) ListScans(ctx context.Context, limit, offset int) ([]*scan.Record, error) {
	return s.orchestrator.ListScans(ctx, limit, offset)
}
