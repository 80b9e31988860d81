package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/artpar/faunagate/adapters/metrics"
	"github.com/artpar/faunagate/core/project"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ project.Observer = (*metrics.Collector)(nil)

func gathered(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return len(f.GetMetric())
		}
	}
	return 0
}

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}

	// registering twice on the same registry panics
	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	metrics.NewWithRegistry(reg)
}

func TestObservePublish(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ObservePublish("function", "created", 10*time.Millisecond)
	m.ObservePublish("function", "updated", 5*time.Millisecond)
	m.ObservePublish("function", "updated", 5*time.Millisecond)
	m.ObservePublish("index", "kept", time.Millisecond)

	if got := testutil.ToFloat64(m.PublishTotal.WithLabelValues("function", "updated")); got != 2 {
		t.Errorf("function/updated = %v, want 2", got)
	}
	if n := gathered(t, reg, "faunagate_publish_resources_total"); n != 3 {
		t.Errorf("series = %d, want 3", n)
	}
	if n := gathered(t, reg, "faunagate_publish_duration_seconds"); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestObserveRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ObserveRequest("GET", "/{model}/list/", 200, 20*time.Millisecond)
	m.ObserveRequest("GET", "/{model}/list/", 201, 20*time.Millisecond)
	m.ObserveRequest("POST", "/user/login/", 401, time.Millisecond)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/{model}/list/", "2xx")); got != 2 {
		t.Errorf("GET list 2xx = %v, want 2", got)
	}
	if n := gathered(t, reg, "faunagate_requests_total"); n != 2 {
		t.Errorf("series = %d, want 2", n)
	}
}

func TestObserveBackend(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ObserveBackend("query", "", time.Millisecond)
	m.ObserveBackend("query", "conflict", time.Millisecond)

	if got := testutil.ToFloat64(m.BackendErrors.WithLabelValues("conflict")); got != 1 {
		t.Errorf("conflict errors = %v, want 1", got)
	}
	if n := gathered(t, reg, "faunagate_backend_errors_total"); n != 1 {
		t.Errorf("error series = %d, want 1", n)
	}
}

func TestObserveWebhook(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.ObserveWebhook("checkout.session.completed", "handled")
	m.ObserveWebhook("checkout.session.completed", "handled")

	if got := testutil.ToFloat64(m.WebhookEvents.WithLabelValues("checkout.session.completed", "handled")); got != 2 {
		t.Errorf("webhook events = %v, want 2", got)
	}
}

func TestObserveReload(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	at := time.Unix(1700000000, 0)
	m.ObserveReload(nil, at)
	m.ObserveReload(errors.New("bad yaml"), at.Add(time.Minute))

	if got := testutil.ToFloat64(m.ConfigReloads); got != 1 {
		t.Errorf("reloads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConfigReloadErrors); got != 1 {
		t.Errorf("reload errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConfigLastReload); got != 1700000000 {
		t.Errorf("last reload = %v", got)
	}
}

func TestRequestsInFlight(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.RequestsInFlight.Inc()
	m.RequestsInFlight.Inc()
	m.RequestsInFlight.Dec()

	if got := testutil.ToFloat64(m.RequestsInFlight); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{302, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
		{0, "unknown"},
		{700, "unknown"},
	}
	for _, tt := range tests {
		if got := metrics.StatusClass(tt.code); got != tt.want {
			t.Errorf("StatusClass(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}
