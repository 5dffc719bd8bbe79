package browser

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/performance"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/khanhnv2901/vela/internal/analyzer"
	"github.com/khanhnv2901/vela/internal/domain/scan"
	"github.com/khanhnv2901/vela/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/vela/internal/shared/errors"
)

const scriptHintsJS = `Array.from(document.querySelectorAll('script[src]')).map(function (s) {
	return {src: s.src, async: !!s.async, defer: !!s.defer};
})`

// ChromeOptions configures a ChromeCapturer.
type ChromeOptions struct {
	// RemoteURL attaches to an already running browser (ws://host:9222)
	// instead of launching one.
	RemoteURL string
	ExecPath  string
	NoSandbox bool
	UserAgent string
	Timeout   time.Duration
	// Settle is how long to keep listening after the load event so late
	// tags can fire.
	Settle     time.Duration
	Classifier analyzer.Classifier
	Logger     *zap.Logger
}

// ChromeCapturer drives headless Chrome over the DevTools protocol.
type ChromeCapturer struct {
	opts ChromeOptions
}

// NewChromeCapturer fills defaults and returns a capturer.
func NewChromeCapturer(opts ChromeOptions) *ChromeCapturer {
	if opts.Timeout <= 0 {
		opts.Timeout = constants.CaptureTimeout
	}
	if opts.Settle < 0 {
		opts.Settle = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &ChromeCapturer{opts: opts}
}

func (c *ChromeCapturer) allocator(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.RemoteURL != "" {
		return chromedp.NewRemoteAllocator(ctx, c.opts.RemoteURL)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(1366, 768),
		chromedp.UserAgent(c.opts.UserAgent),
	)
	if c.opts.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if c.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.ExecPath))
	}
	return chromedp.NewExecAllocator(ctx, opts...)
}

// Capture navigates to pageURL and records every request made while the
// page loads.
func (c *ChromeCapturer) Capture(ctx context.Context, pageURL string) (*scan.Capture, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	allocCtx, allocCancel := c.allocator(ctx)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer func() {
		var proc *os.Process
		if cc := chromedp.FromContext(browserCtx); cc != nil && cc.Browser != nil {
			proc = cc.Browser.Process()
		}
		done := make(chan struct{})
		go func() {
			browserCancel()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			if proc != nil {
				_ = proc.Kill()
			}
			c.opts.Logger.Warn("browser_cleanup_timeout", zap.String("url", pageURL))
		}
	}()

	rec := newRecorder(pageURL, c.opts.Classifier)
	chromedp.ListenTarget(browserCtx, rec.handle)

	var (
		metrics []*performance.Metric
		hints   []domHint
	)
	err := chromedp.Run(browserCtx,
		network.Enable(),
		performance.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.Sleep(c.opts.Settle),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			metrics, err = performance.GetMetrics().Do(ctx)
			return err
		}),
		chromedp.Evaluate(scriptHintsJS, &hints),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", sharedErrors.ErrCaptureFailed, pageURL, err)
	}

	capture := &scan.Capture{
		Requests:    rec.requests(),
		Metrics:     pageMetrics(metrics),
		DurationMs:  time.Since(start).Milliseconds(),
		ScriptHints: scriptHints(hints),
	}
	c.opts.Logger.Debug("capture_finished",
		zap.String("url", pageURL),
		zap.Int("requests", len(capture.Requests)),
		zap.Int64("duration_ms", capture.DurationMs),
	)
	return capture, nil
}

type domHint struct {
	Src   string `json:"src"`
	Async bool   `json:"async"`
	Defer bool   `json:"defer"`
}

func scriptHints(hints []domHint) map[string]scan.ScriptHint {
	if len(hints) == 0 {
		return nil
	}
	out := make(map[string]scan.ScriptHint, len(hints))
	for _, h := range hints {
		if h.Src == "" {
			continue
		}
		out[h.Src] = scan.ScriptHint{Async: h.Async, Defer: h.Defer}
	}
	return out
}

func pageMetrics(metrics []*performance.Metric) scan.PageMetrics {
	var pm scan.PageMetrics
	for _, m := range metrics {
		if m == nil {
			continue
		}
		switch m.Name {
		case "JSHeapUsedSize":
			pm.JSHeapUsedSize = m.Value
		case "ScriptDuration":
			pm.ScriptDuration = m.Value
		}
	}
	return pm
}

// recorder correlates DevTools network events by request id.
type recorder struct {
	pageURL    string
	classifier analyzer.Classifier

	mu      sync.Mutex
	order   []network.RequestID
	pending map[network.RequestID]*pendingRequest
	done    []scan.NetworkRequest
}

type pendingRequest struct {
	req     scan.NetworkRequest
	started time.Time
}

func newRecorder(pageURL string, classifier analyzer.Classifier) *recorder {
	return &recorder{
		pageURL:    pageURL,
		classifier: classifier,
		pending:    make(map[network.RequestID]*pendingRequest),
	}
}

func (r *recorder) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		r.onRequest(e)
	case *network.EventResponseReceived:
		r.onResponse(e)
	case *network.EventLoadingFinished:
		r.onFinished(e.RequestID, e.Timestamp, e.EncodedDataLength)
	case *network.EventLoadingFailed:
		r.onFinished(e.RequestID, e.Timestamp, 0)
	}
}

func (r *recorder) onRequest(e *network.EventRequestWillBeSent) {
	if e.Request == nil || !capturable(e.Request.URL) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// A redirect reuses the request id; close out the previous hop.
	if prev, ok := r.pending[e.RequestID]; ok {
		if e.RedirectResponse != nil {
			status := int(e.RedirectResponse.Status)
			prev.req.StatusCode = &status
		}
		prev.req.DurationMs = elapsedMs(prev.started, e.Timestamp)
		r.done = append(r.done, prev.req)
		delete(r.pending, e.RequestID)
	} else {
		r.order = append(r.order, e.RequestID)
	}

	r.pending[e.RequestID] = &pendingRequest{
		req: scan.NetworkRequest{
			URL:          e.Request.URL,
			Type:         MapResourceType(string(e.Type)),
			Method:       e.Request.Method,
			Initiator:    initiatorURL(e.Initiator),
			IsThirdParty: r.classifier.IsThirdPartyRequest(e.Request.URL, r.pageURL),
		},
		started: monotonic(e.Timestamp),
	}
}

func (r *recorder) onResponse(e *network.EventResponseReceived) {
	if e.Response == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[e.RequestID]
	if !ok {
		return
	}
	status := int(e.Response.Status)
	p.req.StatusCode = &status
	if p.req.SizeBytes == 0 && e.Response.EncodedDataLength > 0 {
		p.req.SizeBytes = int64(e.Response.EncodedDataLength)
	}
}

func (r *recorder) onFinished(id network.RequestID, ts *cdp.MonotonicTime, encoded float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return
	}
	if encoded > 0 {
		p.req.SizeBytes = int64(encoded)
	}
	p.req.DurationMs = elapsedMs(p.started, ts)
	r.done = append(r.done, p.req)
	delete(r.pending, id)
}

// requests returns finished requests followed by any still in flight.
func (r *recorder) requests() []scan.NetworkRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]scan.NetworkRequest, 0, len(r.done)+len(r.pending))
	out = append(out, r.done...)
	for _, id := range r.order {
		if p, ok := r.pending[id]; ok {
			out = append(out, p.req)
		}
	}
	return out
}

// initiatorURL prefers the explicit initiator URL, then the innermost
// stack frame that has one.
func initiatorURL(in *network.Initiator) *string {
	if in == nil {
		return nil
	}
	if in.URL != "" {
		u := in.URL
		return &u
	}
	for stack := in.Stack; stack != nil; stack = stack.Parent {
		for _, frame := range stack.CallFrames {
			if frame != nil && frame.URL != "" {
				u := frame.URL
				return &u
			}
		}
	}
	return nil
}

func monotonic(ts *cdp.MonotonicTime) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return ts.Time()
}

func elapsedMs(started time.Time, ts *cdp.MonotonicTime) float64 {
	end := monotonic(ts)
	if started.IsZero() || end.IsZero() || end.Before(started) {
		return 0
	}
	return float64(end.Sub(started).Microseconds()) / 1000
}
