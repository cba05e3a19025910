// Package metrics exposes benchmark results as Prometheus metrics.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
)

var labelNames = []string{"transport", "scenario", "test", "name"}

// Sink is a bench.Sink updating Prometheus collectors. Per-message records
// feed a latency histogram; per-window records set a gauge.
type Sink struct {
	latency *prometheus.HistogramVec
	window  *prometheus.GaugeVec
	records *prometheus.CounterVec
	payload *prometheus.GaugeVec
}

// NewSink creates the collectors and registers them with reg.
func NewSink(reg prometheus.Registerer) (*Sink, error) {
	s := &Sink{
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "psbench",
				Name:      "latency_seconds",
				Help:      "Round trip or one way latency of individual messages",
				Buckets:   prometheus.ExponentialBuckets(1e-6, 2, 24),
			},
			labelNames,
		),
		window: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "psbench",
				Name:      "window_value",
				Help:      "Last per-window result: msgs/s, mean latency in microseconds or Gbit/s depending on test",
			},
			labelNames,
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "psbench",
				Name:      "records_total",
				Help:      "Number of result records emitted",
			},
			labelNames,
		),
		payload: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "psbench",
				Name:      "payload_bytes",
				Help:      "Configured payload size",
			},
			[]string{"transport", "scenario", "name"},
		),
	}
	for _, c := range []prometheus.Collector{s.latency, s.window, s.records, s.payload} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register collector")
		}
	}
	return s, nil
}

func (s *Sink) Write(r bench.Record) error {
	values := []string{r.Transport, r.Scenario, r.Test, r.Name}
	s.records.WithLabelValues(values...).Inc()
	s.payload.WithLabelValues(r.Transport, r.Scenario, r.Name).Set(float64(r.Payload))
	if r.Sequenced() {
		s.latency.WithLabelValues(values...).Observe(r.Value / 1e6)
		return nil
	}
	s.window.WithLabelValues(values...).Set(r.Value)
	return nil
}

// Server serves /metrics and /health.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *zap.Logger
}

// Listen binds addr and returns a server exposing gatherer.
func Listen(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve runs until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	})
	defer stop()
	s.logger.Info("serving metrics", zap.Stringer("addr", s.ln.Addr()))
	if err := s.srv.Serve(s.ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
