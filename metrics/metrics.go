// Package metrics exposes a small set of prometheus counters for the
// Filesystem Protocol Handler and Tree Builder, served over a loopback
// HTTP endpoint. See DESIGN.md for the grounding of this package.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crate-fs/cratefs/logger"
)

// Recorder counts handler calls and archive failures. A nil *Recorder is
// valid for the Inc methods, which are no-ops on it, so callers that
// don't want metrics can simply pass nil. The Count methods need a
// non-nil Recorder.
type Recorder struct {
	lookups             prometheus.Counter
	readdirs            prometheus.Counter
	reads               prometheus.Counter
	archiveOpenFailures prometheus.Counter
	registry            *prometheus.Registry
}

// NewRecorder builds a Recorder with its own registry, so that multiple
// mounts in the same process (e.g. under test) never collide on the
// default global registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		lookups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cratefs_lookup_total",
			Help: "Number of LookUpInode calls served.",
		}),
		readdirs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cratefs_readdir_total",
			Help: "Number of ReadDir calls served.",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cratefs_read_total",
			Help: "Number of ReadFile calls served.",
		}),
		archiveOpenFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cratefs_archive_open_failures_total",
			Help: "Number of .crate archives that failed to open during tree build.",
		}),
	}
	r.registry = prometheus.NewRegistry()
	r.registry.MustRegister(r.lookups, r.readdirs, r.reads, r.archiveOpenFailures)
	return r
}

func (r *Recorder) IncLookup() {
	if r == nil {
		return
	}
	r.lookups.Inc()
}

func (r *Recorder) IncReadDir() {
	if r == nil {
		return
	}
	r.readdirs.Inc()
}

func (r *Recorder) IncRead() {
	if r == nil {
		return
	}
	r.reads.Inc()
}

func (r *Recorder) IncArchiveOpenFailure() {
	if r == nil {
		return
	}
	r.archiveOpenFailures.Inc()
}

// LookupCount, ReadDirCount, ReadCount, and ArchiveOpenFailureCount
// expose each counter's current value for tests and diagnostics,
// without requiring callers to scrape the /metrics HTTP endpoint.
func (r *Recorder) LookupCount() float64 { return readCounter(r.lookups) }

func (r *Recorder) ReadDirCount() float64 { return readCounter(r.readdirs) }

func (r *Recorder) ReadCount() float64 { return readCounter(r.reads) }

func (r *Recorder) ArchiveOpenFailureCount() float64 { return readCounter(r.archiveOpenFailures) }

func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// Server is a tiny HTTP server exposing /metrics on a loopback address.
// It is optional: callers that don't want the endpoint just don't start
// one.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

// Listen binds addr (expected to be a loopback address such as
// "127.0.0.1:9090") and returns a Server ready to Serve.
func Listen(addr string, rec *Recorder) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rec.registry, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{Handler: mux},
		listener:   ln,
	}, nil
}

// Serve blocks, serving /metrics until the listener is closed.
func (s *Server) Serve() {
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warnf("metrics: server exited: %v", err)
	}
}

// Close shuts the metrics server down.
func (s *Server) Close(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
