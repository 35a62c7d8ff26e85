package gohttpd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	yaml "gopkg.in/yaml.v2"

	"github.com/lovi-cloud/dora/datastore"
	"github.com/lovi-cloud/dora/httpd"
	"github.com/lovi-cloud/dora/metrics"
)

// GoHTTPd serves the lease table and the prometheus metrics.
type GoHTTPd struct {
	ds       datastore.Datastore
	gatherer prometheus.Gatherer
	addr     string
	logger   *zap.Logger
}

// New is
func New(ds datastore.Datastore, gatherer prometheus.Gatherer, addr string, logger *zap.Logger) (httpd.HTTPd, error) {
	return &GoHTTPd{
		ds:       ds,
		gatherer: gatherer,
		addr:     addr,
		logger:   logger,
	}, nil
}

// Serve serves Handler on addr until ctx is done.
func (g *GoHTTPd) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: g.addr, Handler: g.Handler()}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve http: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return eg.Wait()
}

// Handler is
func (g *GoHTTPd) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", g.loggingHandler(http.NotFoundHandler()))
	mux.Handle("/leases", g.loggingHandler(g.leasesHandler()))
	mux.Handle("/metrics", metrics.Handler(g.gatherer))
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (g *GoHTTPd) loggingHandler(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.logger.Info("http request log", zap.String("url", r.URL.String()), zap.String("remote", r.RemoteAddr))
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		handler.ServeHTTP(rec, r)
		g.logger.Info("http response log", zap.Int("code", rec.code))
	})
}

func (g *GoHTTPd) leasesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		leases, err := g.ds.ListLeases(r.Context())
		if err != nil {
			g.logger.Error("failed to list leases", zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		out, err := yaml.Marshal(leases)
		if err != nil {
			g.logger.Error("failed to marshal leases", zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(out)
	})
}

var _ httpd.HTTPd = &GoHTTPd{}
