package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/harun/lanes/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}

	if m.registry == nil {
		t.Error("Registry is nil")
	}

	if m.JobRunsTotal == nil || m.JobDuration == nil || m.JobErrorsTotal == nil {
		t.Error("job metrics are nil")
	}
	if m.SchedulerTicksTotal == nil || m.ScheduledJobs == nil {
		t.Error("scheduler metrics are nil")
	}
	if m.WatchEventsTotal == nil || m.WatchedDirectories == nil {
		t.Error("watcher metrics are nil")
	}
}

func TestDefaultIsShared(t *testing.T) {
	if Default() != Default() {
		t.Error("Default returned different instances")
	}
}

func TestRecordJobRun(t *testing.T) {
	m := NewMetrics()

	m.RecordJobRun("build", 20*time.Millisecond, "")
	m.RecordJobRun("build", 5*time.Millisecond, "timeout")

	if got := testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("build", "success")); got != 1 {
		t.Errorf("success runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("build", "error")); got != 1 {
		t.Errorf("error runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.JobErrorsTotal.WithLabelValues("build", "timeout")); got != 1 {
		t.Errorf("timeout errors = %v, want 1", got)
	}
}

func TestRecordTickAndWatchEvent(t *testing.T) {
	m := NewMetrics()

	m.RecordTick("nightly", true)
	m.RecordTick("nightly", false)
	m.RecordWatchEvent(true)

	if got := testutil.ToFloat64(m.SchedulerTicksTotal.WithLabelValues("nightly", "rejected")); got != 1 {
		t.Errorf("rejected ticks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.WatchEventsTotal.WithLabelValues("submitted")); got != 1 {
		t.Errorf("submitted watch events = %v, want 1", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordJobRun("handler-job", time.Millisecond, "")
	observability.RecordRejected("disposed")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	for _, name := range []string{"lanes_job_runs_total", "lanes_rejected_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected %s in metrics output", name)
		}
	}
}
