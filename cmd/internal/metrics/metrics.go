package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the collected metrics
type Metrics struct {
	totalBackups   prometheus.Counter
	backupSuccess  prometheus.Gauge
	foldersDeleted prometheus.Counter
	totalErrors    *prometheus.CounterVec
}

// New generates new metrics
func New() *Metrics {
	return &Metrics{
		totalBackups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dump2s3_backups_total",
			Help: "total number of successfully uploaded database dumps",
		}),
		backupSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dump2s3_backup_success",
			Help: "is 1 when the last backup run was fully successful, otherwise 0",
		}),
		foldersDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dump2s3_retention_folders_deleted_total",
			Help: "total number of dated backup folders removed by the retention policy",
		}),
		totalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dump2s3_errors_total",
			Help: "total number of errors during backup runs",
		}, []string{"operation"}),
	}
}

// CountBackup counts a successfully uploaded database dump
func (m *Metrics) CountBackup() {
	m.totalBackups.Inc()
}

// CountError counts an error during the given operation
func (m *Metrics) CountError(operation string) {
	m.totalErrors.WithLabelValues(operation).Inc()
}

// CountDeletedFolders counts folders removed by the retention policy
func (m *Metrics) CountDeletedFolders(amount int) {
	m.foldersDeleted.Add(float64(amount))
}

// SetSuccess records whether the last run was fully successful
func (m *Metrics) SetSuccess(success bool) {
	if success {
		m.backupSuccess.Set(1)
		return
	}
	m.backupSuccess.Set(0)
}

// Start registers the collectors and starts the metrics server on the given address
func (m *Metrics) Start(log *slog.Logger, addr string) {
	log.Info("starting metrics server", "addr", addr)

	registry := prometheus.NewRegistry()
	registry.MustRegister(m.totalBackups, m.backupSuccess, m.foldersDeleted, m.totalErrors)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 1 * time.Minute,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", "error", err)
		}
	}()
}
