package browser

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/performance"
	cdpruntime "github.com/chromedp/cdproto/runtime"

	"github.com/khanhnv2901/vela/internal/analyzer"
	"github.com/khanhnv2901/vela/internal/domain/scan"
)

func ts(base time.Time, ms int) *cdp.MonotonicTime {
	t := cdp.MonotonicTime(base.Add(time.Duration(ms) * time.Millisecond))
	return &t
}

func TestRecorderCorrelatesEvents(t *testing.T) {
	base := time.Unix(1000, 0)
	rec := newRecorder("https://shop.example.com/", analyzer.Classifier{})

	rec.handle(&network.EventRequestWillBeSent{
		RequestID: "1",
		Request:   &network.Request{URL: "https://shop.example.com/", Method: "GET"},
		Type:      network.ResourceTypeDocument,
		Timestamp: ts(base, 0),
	})
	rec.handle(&network.EventRequestWillBeSent{
		RequestID: "2",
		Request:   &network.Request{URL: "https://www.googletagmanager.com/gtm.js", Method: "GET"},
		Type:      network.ResourceTypeScript,
		Initiator: &network.Initiator{Type: network.InitiatorTypeParser, URL: "https://shop.example.com/"},
		Timestamp: ts(base, 10),
	})
	rec.handle(&network.EventRequestWillBeSent{
		RequestID: "3",
		Request:   &network.Request{URL: "https://www.google-analytics.com/g/collect", Method: "POST"},
		Type:      network.ResourceTypeXHR,
		Initiator: &network.Initiator{
			Type: network.InitiatorTypeScript,
			Stack: &cdpruntime.StackTrace{CallFrames: []*cdpruntime.CallFrame{
				{URL: ""},
				{URL: "https://www.googletagmanager.com/gtm.js"},
			}},
		},
		Timestamp: ts(base, 20),
	})
	rec.handle(&network.EventRequestWillBeSent{
		RequestID: "4",
		Request:   &network.Request{URL: "data:image/png;base64,AAAA", Method: "GET"},
		Type:      network.ResourceTypeImage,
	})

	rec.handle(&network.EventResponseReceived{RequestID: "2", Response: &network.Response{Status: 200, EncodedDataLength: 300}})
	rec.handle(&network.EventLoadingFinished{RequestID: "2", Timestamp: ts(base, 60), EncodedDataLength: 84000})
	rec.handle(&network.EventLoadingFailed{RequestID: "3", Timestamp: ts(base, 25)})
	rec.handle(&network.EventResponseReceived{RequestID: "1", Response: &network.Response{Status: 200}})

	got := rec.requests()
	if len(got) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(got))
	}

	byURL := make(map[string]scan.NetworkRequest)
	for _, r := range got {
		byURL[r.URL] = r
	}

	gtm := byURL["https://www.googletagmanager.com/gtm.js"]
	if gtm.Type != scan.ResourceScript || !gtm.IsThirdParty || gtm.SizeBytes != 84000 || gtm.DurationMs != 50 {
		t.Fatalf("unexpected gtm request: %+v", gtm)
	}
	if gtm.StatusCode == nil || *gtm.StatusCode != 200 {
		t.Fatalf("expected status 200, got %v", gtm.StatusCode)
	}
	if gtm.Initiator == nil || *gtm.Initiator != "https://shop.example.com/" {
		t.Fatalf("unexpected initiator: %v", gtm.Initiator)
	}

	collect := byURL["https://www.google-analytics.com/g/collect"]
	if collect.Initiator == nil || *collect.Initiator != "https://www.googletagmanager.com/gtm.js" {
		t.Fatalf("initiator should come from the stack, got %v", collect.Initiator)
	}
	if collect.StatusCode != nil || collect.DurationMs != 5 || collect.Method != "POST" {
		t.Fatalf("unexpected failed request: %+v", collect)
	}

	doc := byURL["https://shop.example.com/"]
	if doc.IsThirdParty || doc.StatusCode == nil {
		t.Fatalf("in-flight document should still be reported: %+v", doc)
	}
}

func TestRecorderRedirect(t *testing.T) {
	base := time.Unix(1000, 0)
	rec := newRecorder("https://example.com/", analyzer.Classifier{})

	rec.handle(&network.EventRequestWillBeSent{
		RequestID: "9",
		Request:   &network.Request{URL: "https://cdn.vendor.io/a.js", Method: "GET"},
		Type:      network.ResourceTypeScript,
		Timestamp: ts(base, 0),
	})
	rec.handle(&network.EventRequestWillBeSent{
		RequestID:        "9",
		Request:          &network.Request{URL: "https://cdn.vendor.io/v2/a.js", Method: "GET"},
		Type:             network.ResourceTypeScript,
		RedirectResponse: &network.Response{Status: 301},
		Timestamp:        ts(base, 15),
	})
	rec.handle(&network.EventLoadingFinished{RequestID: "9", Timestamp: ts(base, 40), EncodedDataLength: 10})

	got := rec.requests()
	if len(got) != 2 {
		t.Fatalf("expected both hops, got %d", len(got))
	}
	if *got[0].StatusCode != 301 || got[0].DurationMs != 15 {
		t.Fatalf("unexpected first hop: %+v", got[0])
	}
	if got[1].URL != "https://cdn.vendor.io/v2/a.js" || got[1].SizeBytes != 10 || got[1].DurationMs != 25 {
		t.Fatalf("unexpected final hop: %+v", got[1])
	}
}

func TestPageMetricsAndHints(t *testing.T) {
	pm := pageMetrics([]*performance.Metric{
		{Name: "JSHeapUsedSize", Value: 1024},
		nil,
		{Name: "ScriptDuration", Value: 0.25},
		{Name: "Nodes", Value: 12},
	})
	if pm.JSHeapUsedSize != 1024 || pm.ScriptDuration != 0.25 {
		t.Fatalf("unexpected metrics: %+v", pm)
	}

	hints := scriptHints([]domHint{{Src: "https://a.io/x.js", Async: true}, {Src: ""}})
	if len(hints) != 1 || !hints["https://a.io/x.js"].Async {
		t.Fatalf("unexpected hints: %+v", hints)
	}
	if scriptHints(nil) != nil {
		t.Fatal("no hints should yield nil")
	}
}
