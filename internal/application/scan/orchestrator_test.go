package scan

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/khanhnv2901/vela/internal/analyzer"
	"github.com/khanhnv2901/vela/internal/catalog"
	"github.com/khanhnv2901/vela/internal/domain/scan"
	"github.com/khanhnv2901/vela/internal/infrastructure/browser"
	"github.com/khanhnv2901/vela/internal/infrastructure/cache"
	"github.com/khanhnv2901/vela/internal/infrastructure/events"
	"github.com/khanhnv2901/vela/internal/infrastructure/kv"
	"github.com/khanhnv2901/vela/internal/infrastructure/metrics"
	"github.com/khanhnv2901/vela/internal/infrastructure/persistence/sqlite"
	"github.com/khanhnv2901/vela/internal/infrastructure/persistence/sqlite/sqlitetest"
	sharedErrors "github.com/khanhnv2901/vela/internal/shared/errors"
)

const pageURL = "https://shop.example.com/"

func intPtr(v int) *int { return &v }

func sampleCapture() *scan.Capture {
	gtm := "https://www.googletagmanager.com/gtm.js?id=GTM-1"
	return &scan.Capture{
		Requests: []scan.NetworkRequest{
			{URL: pageURL, Type: scan.ResourceDocument, Method: "GET", StatusCode: intPtr(200), SizeBytes: 30000},
			{URL: "https://cdn.example.com/app.js", Type: scan.ResourceScript, Method: "GET", SizeBytes: 50000},
			{URL: gtm, Type: scan.ResourceScript, Method: "GET", SizeBytes: 90000, IsThirdParty: true},
			{URL: "https://www.google-analytics.com/g/collect", Type: scan.ResourceXHR, Method: "POST", SizeBytes: 100, Initiator: &gtm, IsThirdParty: true},
		},
		DurationMs: 1200,
	}
}

type harness struct {
	orch     *Orchestrator
	repo     *sqlite.ScanRepository
	cache    *cache.ResultCache
	events   *events.Broadcaster
	captures atomic.Int32
}

func newHarness(t *testing.T, capture browser.CapturerFunc) *harness {
	t.Helper()
	store := kv.NewMemoryStore(0)
	t.Cleanup(func() { store.Close() })

	cat, err := catalog.Default()
	require.NoError(t, err)

	h := &harness{
		repo:   sqlite.NewScanRepository(sqlitetest.OpenMemory(t)),
		cache:  cache.New(store),
		events: events.NewBroadcaster(),
	}
	counted := browser.CapturerFunc(func(ctx context.Context, u string) (*scan.Capture, error) {
		h.captures.Add(1)
		return capture(ctx, u)
	})
	h.orch = NewOrchestrator(h.repo, h.cache, counted, analyzer.New(analyzer.Classifier{}), catalog.NewHolder(cat),
		WithEvents(h.events),
		WithMetrics(metrics.New()),
		WithLogger(zaptest.NewLogger(t)),
	)
	return h
}

func TestExecuteCompletesAndCaches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(context.Context, string) (*scan.Capture, error) { return sampleCapture(), nil })

	rec, err := h.orch.CreateScan(ctx, pageURL)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusQueued, rec.Status())

	sub, unsubscribe := h.events.Subscribe()
	defer unsubscribe()

	done, err := h.orch.Execute(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, scan.StatusCompleted, done.Status())
	require.NotNil(t, done.Summary())
	assert.Equal(t, 1, done.Summary().TotalScripts)
	assert.Equal(t, 4, done.Summary().TotalRequests)
	assert.Equal(t, scan.GradeA, done.Summary().Grade)
	assert.Equal(t, "tag-manager", done.Scripts()[0].Category)
	assert.Len(t, done.NetworkRequests(), 4)

	row, err := h.repo.FindByID(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, "completed", row.Status)
	require.NotNil(t, row.ResultJSON)

	cached, err := h.cache.GetByURL(ctx, "http://SHOP.example.com/#frag")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, rec.ID(), cached.ID())

	var statuses []scan.Status
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub:
			statuses = append(statuses, ev.Status)
		case <-time.After(time.Second):
			t.Fatal("missing status event")
		}
	}
	assert.Equal(t, []scan.Status{scan.StatusRunning, scan.StatusCompleted}, statuses)

	_, err = h.orch.Execute(ctx, rec.ID())
	assert.ErrorIs(t, err, sharedErrors.ErrInvalidTransition)
}

func TestExecuteCaptureFailureEndsFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(context.Context, string) (*scan.Capture, error) {
		return nil, errors.New("navigation timeout of 30000 ms exceeded")
	})

	rec, err := h.orch.CreateScan(ctx, pageURL)
	require.NoError(t, err)

	done, err := h.orch.Execute(ctx, rec.ID())
	require.NoError(t, err, "capture errors must not propagate")
	assert.Equal(t, scan.StatusFailed, done.Status())
	require.NotNil(t, done.ErrorMessage())
	assert.Contains(t, *done.ErrorMessage(), "navigation timeout")
	assert.Nil(t, done.Summary())
	assert.Empty(t, done.Scripts())

	got, err := h.orch.GetScan(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, scan.StatusFailed, got.Status())
	require.NotNil(t, got.CompletedAt())

	byURL, err := h.cache.GetByURL(ctx, pageURL)
	require.NoError(t, err)
	assert.Nil(t, byURL, "failed scans must not be used for dedup")
}

func TestExecuteAppliesCaptureTimeout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(ctx context.Context, _ string) (*scan.Capture, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	WithCaptureTimeout(20 * time.Millisecond)(h.orch)

	rec, err := h.orch.CreateScan(ctx, pageURL)
	require.NoError(t, err)

	done, err := h.orch.Execute(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, scan.StatusFailed, done.Status())
	assert.Contains(t, *done.ErrorMessage(), context.DeadlineExceeded.Error())
}

func TestLaunchRecoversFromPanic(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(context.Context, string) (*scan.Capture, error) {
		panic("renderer crashed")
	})

	rec, err := h.orch.CreateScan(ctx, pageURL)
	require.NoError(t, err)

	h.orch.Launch(rec.ID())
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Wait(waitCtx))

	row, err := h.repo.FindByID(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, "failed", row.Status)
	require.NotNil(t, row.ErrorMessage)
	assert.Contains(t, *row.ErrorMessage, "renderer crashed")
}

type brokenCache struct{ puts atomic.Int32 }

func (c *brokenCache) Get(context.Context, string) (*scan.Record, error) {
	return nil, errors.New("cache offline")
}
func (c *brokenCache) Put(context.Context, *scan.Record) error {
	c.puts.Add(1)
	return errors.New("cache offline")
}
func (c *brokenCache) GetByURL(context.Context, string) (*scan.Record, error) {
	return nil, errors.New("cache offline")
}

func TestCacheFailuresFallBackToStorage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(context.Context, string) (*scan.Capture, error) { return sampleCapture(), nil })
	broken := &brokenCache{}
	h.orch.cache = broken

	rec, err := h.orch.CreateScan(ctx, pageURL)
	require.NoError(t, err)
	done, err := h.orch.Execute(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, scan.StatusCompleted, done.Status(), "cache write failure must not revert the scan")

	got, err := h.orch.GetScan(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, scan.StatusCompleted, got.Status())
	assert.Equal(t, done.Summary().Grade, got.Summary().Grade)
	assert.Equal(t, int32(2), broken.puts.Load())

	_, err = h.orch.GetScan(ctx, "00000000-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, sharedErrors.ErrScanNotFound)
}

func TestGetScanRepopulatesCacheForTerminalScans(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(context.Context, string) (*scan.Capture, error) { return sampleCapture(), nil })

	rec, err := h.orch.CreateScan(ctx, pageURL)
	require.NoError(t, err)

	_, err = h.orch.GetScan(ctx, rec.ID())
	require.NoError(t, err)
	queued, err := h.cache.Get(ctx, rec.ID())
	require.NoError(t, err)
	assert.Nil(t, queued, "non-terminal scans are not cached on read")

	_, err = h.orch.Execute(ctx, rec.ID())
	require.NoError(t, err)
	require.NoError(t, h.cache.Invalidate(ctx, rec.ID()))

	got, err := h.orch.GetScan(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, scan.StatusCompleted, got.Status())

	cached, err := h.cache.Get(ctx, rec.ID())
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, got.CreatedAt().UnixMilli(), cached.CreatedAt().UnixMilli())
}

func TestListScans(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(context.Context, string) (*scan.Capture, error) { return sampleCapture(), nil })

	for i := 0; i < 3; i++ {
		_, err := h.orch.CreateScan(ctx, pageURL)
		require.NoError(t, err)
	}
	records, err := h.orch.ListScans(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	require.NoError(t, h.orch.Ping(ctx))
}
