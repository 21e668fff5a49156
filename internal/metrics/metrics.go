package metrics

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jxwalker/modshelf/internal/config"
)

// Manager collects modshelf counters in a private registry and writes them in the
// node-exporter textfile format. A nil *Manager is a valid no-op.
type Manager struct {
	path string
	reg  *prometheus.Registry

	apiRequests   *prometheus.CounterVec
	probeLookups  *prometheus.CounterVec
	layoutPasses  prometheus.Counter
	filesHashed   prometheus.Counter
	bytesHashed   prometheus.Counter
	imagesSaved   prometheus.Counter
	catalogSize   *prometheus.GaugeVec
	lastWriteTime prometheus.Gauge
}

func New(cfg *config.Config) *Manager {
	if cfg == nil || !cfg.Metrics.PrometheusTextfile.Enabled || cfg.Metrics.PrometheusTextfile.Path == "" {
		return nil
	}
	p := cfg.Metrics.PrometheusTextfile.Path
	_ = os.MkdirAll(filepath.Dir(p), 0o755)
	return newManager(p)
}

func newManager(path string) *Manager {
	m := &Manager{
		path: path,
		reg:  prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modshelf_civitai_requests_total",
			Help: "Civitai API requests by endpoint and HTTP status.",
		}, []string{"endpoint", "status"}),
		probeLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modshelf_probe_cache_lookups_total",
			Help: "Image size probe cache lookups by result.",
		}, []string{"result"}),
		layoutPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modshelf_layout_passes_total",
			Help: "Completed masonry layout passes.",
		}),
		filesHashed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modshelf_files_hashed_total",
			Help: "Model files hashed by the scanner.",
		}),
		bytesHashed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modshelf_bytes_hashed_total",
			Help: "Bytes read while hashing model files.",
		}),
		imagesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modshelf_images_saved_total",
			Help: "Gallery images saved to the output directory.",
		}),
		catalogSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "modshelf_catalog_models",
			Help: "Local models in the catalog by type.",
		}, []string{"type"}),
		lastWriteTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modshelf_metrics_timestamp_seconds",
			Help: "UNIX timestamp when this file was written.",
		}),
	}
	m.reg.MustRegister(m.apiRequests, m.probeLookups, m.layoutPasses, m.filesHashed,
		m.bytesHashed, m.imagesSaved, m.catalogSize, m.lastWriteTime)
	return m
}

func (m *Manager) ObserveRequest(endpoint string, status int) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

func (m *Manager) ProbeCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.probeLookups.WithLabelValues("hit").Inc()
	} else {
		m.probeLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Manager) IncLayoutPasses() {
	if m == nil {
		return
	}
	m.layoutPasses.Inc()
}

func (m *Manager) AddHashed(bytes int64) {
	if m == nil {
		return
	}
	m.filesHashed.Inc()
	m.bytesHashed.Add(float64(bytes))
}

func (m *Manager) IncImagesSaved() {
	if m == nil {
		return
	}
	m.imagesSaved.Inc()
}

func (m *Manager) SetCatalogSize(modelType string, n int) {
	if m == nil {
		return
	}
	m.catalogSize.WithLabelValues(modelType).Set(float64(n))
}

// Write atomically replaces the textfile with the current values.
func (m *Manager) Write() error {
	if m == nil {
		return nil
	}
	m.lastWriteTime.SetToCurrentTime()
	return prometheus.WriteToTextfile(m.path, m.reg)
}
