package browser

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/khanhnv2901/vela/internal/analyzer"
	"github.com/khanhnv2901/vela/internal/domain/scan"
	"github.com/khanhnv2901/vela/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/vela/internal/shared/errors"
)

const (
	maxDocumentBytes    = 5 << 20
	maxSubresourceBytes = 10 << 20
)

// StaticOptions configures a StaticCapturer.
type StaticOptions struct {
	Client      *http.Client
	UserAgent   string
	Timeout     time.Duration
	Concurrency int
	// RateLimit is subresource fetches per second.
	RateLimit  int
	Classifier analyzer.Classifier
	Logger     *zap.Logger
}

// StaticCapturer fetches the page HTML without executing it and then
// fetches each referenced script and stylesheet. It sees only what the
// markup declares, so tags injected at runtime are missed.
type StaticCapturer struct {
	opts StaticOptions
}

// NewStaticCapturer fills defaults and returns a capturer.
func NewStaticCapturer(opts StaticOptions) *StaticCapturer {
	if opts.Timeout <= 0 {
		opts.Timeout = constants.CaptureTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		}
	}
	return &StaticCapturer{opts: opts}
}

type subresource struct {
	url       string
	kind      scan.ResourceType
	initiator string
}

// Capture fetches pageURL and its declared subresources.
func (s *StaticCapturer) Capture(ctx context.Context, pageURL string) (*scan.Capture, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: %s", sharedErrors.ErrInvalidURL, pageURL)
	}

	docReq, body, err := s.fetch(ctx, pageURL, scan.ResourceDocument, nil, maxDocumentBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", sharedErrors.ErrCaptureFailed, pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", sharedErrors.ErrCaptureFailed, pageURL, err)
	}

	// <base href> changes how relative references resolve.
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = b
		}
	}

	subs, hints := collectSubresources(doc, base, pageURL)

	requests := make([]scan.NetworkRequest, 1+len(subs))
	requests[0] = docReq
	s.fetchAll(ctx, subs, requests[1:])

	return &scan.Capture{
		Requests:    requests,
		DurationMs:  time.Since(start).Milliseconds(),
		ScriptHints: hints,
	}, nil
}

func (s *StaticCapturer) fetchAll(ctx context.Context, subs []subresource, out []scan.NetworkRequest) {
	limiter := rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.RateLimit)
	sem := make(chan struct{}, s.opts.Concurrency)
	var wg sync.WaitGroup

	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub subresource) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			initiator := sub.initiator
			if err := limiter.Wait(ctx); err != nil {
				out[i] = s.failed(sub, &initiator)
				return
			}
			req, _, err := s.fetch(ctx, sub.url, sub.kind, &initiator, maxSubresourceBytes)
			if err != nil {
				s.opts.Logger.Debug("subresource_fetch_failed",
					zap.String("url", sub.url),
					zap.Error(err),
				)
			}
			out[i] = req
		}(i, sub)
	}
	wg.Wait()
}

func (s *StaticCapturer) failed(sub subresource, initiator *string) scan.NetworkRequest {
	return scan.NetworkRequest{
		URL:          sub.url,
		Type:         sub.kind,
		Method:       http.MethodGet,
		Initiator:    initiator,
		IsThirdParty: s.opts.Classifier.IsThirdPartyRequest(sub.url, *initiator),
	}
}

// fetch always returns a populated NetworkRequest, even on error, so the
// attempt is still counted.
func (s *StaticCapturer) fetch(ctx context.Context, target string, kind scan.ResourceType, initiator *string, limit int64) (scan.NetworkRequest, []byte, error) {
	page := target
	if initiator != nil {
		page = *initiator
	}
	nr := scan.NetworkRequest{
		URL:          target,
		Type:         kind,
		Method:       http.MethodGet,
		Initiator:    initiator,
		IsThirdParty: s.opts.Classifier.IsThirdPartyRequest(target, page),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nr, nil, err
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)

	started := time.Now()
	resp, err := s.opts.Client.Do(req)
	if err != nil {
		nr.DurationMs = msSince(started)
		return nr, nil, err
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	nr.StatusCode = &status

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	nr.DurationMs = msSince(started)
	nr.SizeBytes = int64(len(body))
	if err != nil {
		return nr, nil, err
	}
	if kind == scan.ResourceDocument && (status < 200 || status >= 400) {
		return nr, nil, fmt.Errorf("unexpected status %d", status)
	}
	return nr, body, nil
}

func collectSubresources(doc *goquery.Document, base *url.URL, pageURL string) ([]subresource, map[string]scan.ScriptHint) {
	seen := make(map[string]struct{})
	var subs []subresource
	hints := make(map[string]scan.ScriptHint)

	add := func(raw string, kind scan.ResourceType) string {
		resolved, err := resolveReference(strings.TrimSpace(raw), base)
		if err != nil || resolved == "" || !capturable(resolved) {
			return ""
		}
		if _, ok := seen[resolved]; ok {
			return resolved
		}
		seen[resolved] = struct{}{}
		subs = append(subs, subresource{url: resolved, kind: kind, initiator: pageURL})
		return resolved
	}

	doc.Find("script[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		resolved := add(src, scan.ResourceScript)
		if resolved == "" {
			return
		}
		if _, ok := hints[resolved]; ok {
			return
		}
		_, async := sel.Attr("async")
		_, deferred := sel.Attr("defer")
		hints[resolved] = scan.ScriptHint{Async: async, Defer: deferred}
	})
	doc.Find("link[href]").Each(func(_ int, sel *goquery.Selection) {
		rel, _ := sel.Attr("rel")
		if !strings.EqualFold(strings.TrimSpace(rel), "stylesheet") {
			return
		}
		href, _ := sel.Attr("href")
		add(href, scan.ResourceStylesheet)
	})
	return subs, hints
}

func resolveReference(src string, base *url.URL) (string, error) {
	if src == "" || strings.HasPrefix(src, "data:") || strings.HasPrefix(src, "javascript:") {
		return "", nil
	}
	if strings.HasPrefix(src, "//") {
		return base.Scheme + ":" + src, nil
	}
	resolved, err := base.Parse(src)
	if err != nil {
		return "", err
	}
	return resolved.String(), nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
