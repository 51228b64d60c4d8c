package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"mechgrid.ai/internal/sim/kinetics"
	"mechgrid.ai/internal/sim/world"
)

var (
	_ world.Metrics     = (*WorldCollector)(nil)
	_ kinetics.Observer = (*WorldCollector)(nil)
)

func TestObserveEditLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewWorldCollector(reg)
	if err != nil {
		t.Fatalf("NewWorldCollector: %v", err)
	}
	c.ObserveEdit("PLACE", "")
	c.ObserveEdit("PLACE", "")
	c.ObserveEdit("PLACE", "E_CONFLICT")

	if got := testutil.ToFloat64(c.Edits.WithLabelValues("PLACE", "OK")); got != 2 {
		t.Fatalf("edits OK=%v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Edits.WithLabelValues("PLACE", "E_CONFLICT")); got != 1 {
		t.Fatalf("edits E_CONFLICT=%v, want 1", got)
	}
}

func TestManagerObserverRecordsMutations(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewWorldCollector(reg)
	if err != nil {
		t.Fatalf("NewWorldCollector: %v", err)
	}
	m := kinetics.NewManager()
	m.SetObserver(c)

	east := kinetics.FacesOf(kinetics.East)
	west := kinetics.FacesOf(kinetics.West)
	m.AddSource(kinetics.NewSource(kinetics.Pos{}, east, kinetics.Rotation{Direction: kinetics.East, Speed: 1}))
	m.Add(kinetics.NewTransform(kinetics.Pos{X: 1}, kinetics.AxisFaces(kinetics.East), nil))
	m.AddSource(kinetics.NewSource(kinetics.Pos{X: 2}, west, kinetics.Rotation{Direction: kinetics.West, Speed: 1}))

	if got := testutil.ToFloat64(c.Mutations.WithLabelValues("add_source", "committed")); got != 1 {
		t.Fatalf("add_source committed=%v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Mutations.WithLabelValues("add_source", "rolled_back")); got != 1 {
		t.Fatalf("add_source rolled_back=%v, want 1", got)
	}
	if n := histogramSampleCount(t, reg, "mechgrid_propagation_nodes"); n != 3 {
		t.Fatalf("propagation samples=%d, want 3", n)
	}
}

func TestHandlerExposesTickMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewWorldCollector(reg)
	if err != nil {
		t.Fatalf("NewWorldCollector: %v", err)
	}
	c.ObserveTick(2*time.Millisecond, 3, 17)
	c.SetIndexStats(5, 2)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{
		"mechgrid_networks 3",
		"mechgrid_blocks 17",
		"mechgrid_index_queue_depth 5",
		"mechgrid_tick_duration_seconds_count 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewWorldCollector(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := NewWorldCollector(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	a.ObserveEdit("BREAK", "")
	if got := testutil.ToFloat64(b.Edits.WithLabelValues("BREAK", "OK")); got != 1 {
		t.Fatalf("shared counter=%v, want 1", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *WorldCollector
	c.ObserveEdit("PLACE", "")
	c.ObserveTick(time.Millisecond, 1, 1)
	c.ObserveMutation("add", true, 1)
	c.SetIndexStats(1, 1)
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name || mf.GetType() != dto.MetricType_HISTOGRAM {
			continue
		}
		for _, m := range mf.Metric {
			if h := m.GetHistogram(); h != nil {
				return h.GetSampleCount()
			}
		}
	}
	return 0
}
