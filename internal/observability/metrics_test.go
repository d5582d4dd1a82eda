package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/genlecho/internal/testutil/testlog"
)

func TestRecordCounters(t *testing.T) {
	testlog.Start(t)
	before := DroppedCount(RoleRequester, ReasonDecode)
	RecordDropped(RoleRequester, ReasonDecode)
	RecordDropped(RoleRequester, ReasonDecode)
	if got := DroppedCount(RoleRequester, ReasonDecode); got != before+2 {
		t.Fatalf("unexpected drop count: %v", got)
	}

	sent := SentCount(RoleResponder, "notify", "multicast")
	RecordSent(RoleResponder, "notify", "multicast")
	if got := SentCount(RoleResponder, "notify", "multicast"); got != sent+1 {
		t.Fatalf("unexpected sent count: %v", got)
	}

	recv := ReceivedCount(RoleResponder, "echo")
	RecordReceived(RoleResponder, "echo")
	if got := ReceivedCount(RoleResponder, "echo"); got != recv+1 {
		t.Fatalf("unexpected received count: %v", got)
	}
}

func TestRouterServesMetricsAndHealth(t *testing.T) {
	testlog.Start(t)
	RecordReceived(RoleRequester, "echo")
	r := NewRouter("test")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "genlecho_frames_received_total") {
		t.Fatalf("metrics body missing frame counters")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health response: %d %s", w.Code, w.Body.String())
	}
}

func TestRouterAllowsConfiguredOrigins(t *testing.T) {
	testlog.Start(t)
	r := NewRouter("test", " http://localhost:3000 ", "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://elsewhere.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected foreign origin to be refused, got %d", w.Code)
	}
}
