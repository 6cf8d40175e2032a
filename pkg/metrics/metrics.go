// Package metrics exports check cycle outcomes to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markus-lassfolk/netswitch/pkg"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
)

const namespace = "netswitch"

// FailureSource reports the failure counts per interface and SSID.
type FailureSource interface {
	Failures() map[string]map[string]int
}

// Metrics implements pkg.CheckObserver on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	failures FailureSource

	checks    *prometheus.CounterVec
	fallbacks prometheus.Counter
	duration  prometheus.Histogram
	connected prometheus.Gauge
	active    *prometheus.GaugeVec
	attempts  *prometheus.CounterVec
	ssidFails *prometheus.GaugeVec
	lastCheck prometheus.Gauge
}

// New registers the collectors. failures may be nil.
func New(failures FailureSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		failures: failures,
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Check cycles by outcome.",
		}, []string{"connected"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_fallbacks_total",
			Help:      "Check cycles decided by the probe without interface binding.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Duration of check cycles.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 when the last check cycle ended connected.",
		}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_interface_info",
			Help:      "Interface and SSID chosen by the last check cycle.",
		}, []string{"interface", "ssid", "rule"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Interface attempts by step and verification result.",
		}, []string{"interface", "step", "online"}),
		ssidFails: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ssid_failures",
			Help:      "Remembered failed switches per interface and SSID.",
		}, []string{"interface", "ssid"}),
		lastCheck: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_check_timestamp_seconds",
			Help:      "Start time of the last check cycle.",
		}),
	}
	m.registry.MustRegister(
		m.checks, m.fallbacks, m.duration, m.connected, m.active,
		m.attempts, m.ssidFails, m.lastCheck,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCheck(_ context.Context, res *pkg.CheckResult) {
	m.checks.WithLabelValues(strconv.FormatBool(res.Connected)).Inc()
	if res.Fallback {
		m.fallbacks.Inc()
	}
	m.duration.Observe(res.Duration.Seconds())
	m.lastCheck.Set(float64(res.Started.Unix()))

	m.active.Reset()
	if res.Connected {
		m.connected.Set(1)
		if res.Interface != "" {
			m.active.WithLabelValues(res.Interface, res.SSID, strconv.Itoa(res.Rule)).Set(1)
		}
	} else {
		m.connected.Set(0)
	}

	for _, a := range res.Attempts {
		m.attempts.WithLabelValues(a.Interface, a.Step, strconv.FormatBool(a.Online)).Inc()
	}

	if m.failures != nil {
		m.ssidFails.Reset()
		for iface, counts := range m.failures.Failures() {
			for ssid, n := range counts {
				m.ssidFails.WithLabelValues(iface, ssid).Set(float64(n))
			}
		}
	}
}

// Serve exposes handler on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *logx.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		<-errCh
		logger.Info("Metrics server stopped")
		return nil
	}
}
