package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestServer_ExposesMetrics(t *testing.T) {
	EventsEmitted.WithLabelValues("av.play").Inc()

	srv := NewServer("127.0.0.1:0", zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `avtrack_events_emitted_total{event="av.play"}`) {
		t.Errorf("expected events counter in output, got:\n%s", body)
	}
}

func TestServer_Health(t *testing.T) {
	srv := NewServer("127.0.0.1:0", zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(HeartbeatsArmed.WithLabelValues("playback"))
	HeartbeatsArmed.WithLabelValues("playback").Inc()
	after := testutil.ToFloat64(HeartbeatsArmed.WithLabelValues("playback"))

	if after-before != 1 {
		t.Errorf("Expected counter to grow by 1, grew by %v", after-before)
	}
}
