package metrics

import (
	"net/http"

	"github.com/bnema/devsession/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devsession"

// Recorder counts coordinator outcomes on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	captures     *prometheus.CounterVec
	captureFiles prometheus.Histogram
	restores     *prometheus.CounterVec
	restoreFiles *prometheus.CounterVec
	syncs        *prometheus.CounterVec
	autoSaves    *prometheus.CounterVec
	views        prometheus.Gauge
}

var _ ports.Recorder = (*Recorder)(nil)

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		captures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "captures_total",
				Help:      "Session captures by outcome",
			},
			[]string{"outcome"},
		),
		captureFiles: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "capture_files",
				Help:      "Files recorded per successful capture",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
		),
		restores: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restores_total",
				Help:      "Session restores by outcome",
			},
			[]string{"outcome"},
		),
		restoreFiles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restore_files_total",
				Help:      "Files replayed during restores by result",
			},
			[]string{"result"},
		),
		syncs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syncs_total",
				Help:      "Cross-device sync checks by outcome",
			},
			[]string{"outcome"},
		),
		autoSaves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "autosaves_total",
				Help:      "Debounced autosaves by outcome",
			},
			[]string{"outcome"},
		),
		views: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "views_active",
				Help:      "Views with a live coordinator",
			},
		),
	}
}

func (r *Recorder) ObserveCapture(outcome string, files int) {
	r.captures.WithLabelValues(outcome).Inc()
	if outcome == ports.OutcomeOK {
		r.captureFiles.Observe(float64(files))
	}
}

func (r *Recorder) ObserveRestore(outcome string, attempted int, failed int) {
	r.restores.WithLabelValues(outcome).Inc()
	if attempted > failed {
		r.restoreFiles.WithLabelValues("opened").Add(float64(attempted - failed))
	}
	if failed > 0 {
		r.restoreFiles.WithLabelValues("failed").Add(float64(failed))
	}
}

func (r *Recorder) ObserveSync(outcome string) {
	r.syncs.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ObserveAutoSave(outcome string) {
	r.autoSaves.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SetActiveViews(n int) {
	r.views.Set(float64(n))
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
