package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorldCollector exposes world loop and network manager metrics. It satisfies
// both world.Metrics and kinetics.Observer. All methods are nil-safe.
type WorldCollector struct {
	gatherer prometheus.Gatherer

	Edits            *prometheus.CounterVec
	Mutations        *prometheus.CounterVec
	PropagationNodes prometheus.Histogram
	TickDuration     prometheus.Histogram
	Networks         prometheus.Gauge
	Blocks           prometheus.Gauge
	IndexQueueDepth  prometheus.Gauge
	IndexDropped     prometheus.Gauge
}

// NewWorldCollector registers world metrics against the provided registerer.
func NewWorldCollector(reg prometheus.Registerer) (*WorldCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	edits, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mechgrid_edits_total",
		Help: "Client edits processed by the world loop, by op and result code.",
	}, []string{"op", "result"}), "mechgrid_edits_total")
	if err != nil {
		return nil, err
	}

	mutations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mechgrid_network_mutations_total",
		Help: "Network manager mutation attempts, by operation and outcome.",
	}, []string{"op", "result"}), "mechgrid_network_mutations_total")
	if err != nil {
		return nil, err
	}

	propagation, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mechgrid_propagation_nodes",
		Help:    "Nodes visited by the connectivity pass of one mutation.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}), "mechgrid_propagation_nodes")
	if err != nil {
		return nil, err
	}

	tickDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mechgrid_tick_duration_seconds",
		Help:    "Wall time spent processing one world tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}), "mechgrid_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	networks, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mechgrid_networks",
		Help: "Live kinetic networks.",
	}), "mechgrid_networks")
	if err != nil {
		return nil, err
	}

	blocks, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mechgrid_blocks",
		Help: "Placed mechanical blocks.",
	}), "mechgrid_blocks")
	if err != nil {
		return nil, err
	}

	queueDepth, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mechgrid_index_queue_depth",
		Help: "Pending writes in the sqlite index queue.",
	}), "mechgrid_index_queue_depth")
	if err != nil {
		return nil, err
	}

	dropped, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mechgrid_index_dropped",
		Help: "Writes dropped by the sqlite index since start.",
	}), "mechgrid_index_dropped")
	if err != nil {
		return nil, err
	}

	return &WorldCollector{
		gatherer:         gatherer,
		Edits:            edits,
		Mutations:        mutations,
		PropagationNodes: propagation,
		TickDuration:     tickDuration,
		Networks:         networks,
		Blocks:           blocks,
		IndexQueueDepth:  queueDepth,
		IndexDropped:     dropped,
	}, nil
}

// Handler returns an HTTP handler that serves the collector's registry.
func (c *WorldCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveEdit counts one edit. An empty code means it was applied.
func (c *WorldCollector) ObserveEdit(op, code string) {
	if c == nil || c.Edits == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	c.Edits.WithLabelValues(op, code).Inc()
}

func (c *WorldCollector) ObserveTick(d time.Duration, networks, blocks int) {
	if c == nil {
		return
	}
	if c.TickDuration != nil {
		c.TickDuration.Observe(d.Seconds())
	}
	if c.Networks != nil {
		c.Networks.Set(float64(networks))
	}
	if c.Blocks != nil {
		c.Blocks.Set(float64(blocks))
	}
}

func (c *WorldCollector) ObserveMutation(op string, ok bool, visited int) {
	if c == nil {
		return
	}
	result := "committed"
	if !ok {
		result = "rolled_back"
	}
	if c.Mutations != nil {
		c.Mutations.WithLabelValues(op, result).Inc()
	}
	if c.PropagationNodes != nil {
		c.PropagationNodes.Observe(float64(visited))
	}
}

func (c *WorldCollector) SetIndexStats(depth int, dropped uint64) {
	if c == nil {
		return
	}
	if c.IndexQueueDepth != nil {
		c.IndexQueueDepth.Set(float64(depth))
	}
	if c.IndexDropped != nil {
		c.IndexDropped.Set(float64(dropped))
	}
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
