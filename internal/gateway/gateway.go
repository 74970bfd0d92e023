package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/IceFireDB/IceFireDB-DHTGateway/utils"
)

// Gateway translates HTTP requests into engine calls. It holds no mutable
// cross-request state; Stats counters are the only shared values and they
// are atomic.
type Gateway struct {
	engine    Engine
	repo      ConfigRepo
	opTimeout time.Duration
	stats     Stats
}

// Stats are process-wide gateway counters, served on /api/v0/stats.
type Stats struct {
	Requests         atomic.Int64
	Envelopes        atomic.Int64
	StreamsCancelled atomic.Int64
	StreamsTruncated atomic.Int64
}

type statsSnapshot struct {
	Requests         int64 `json:"requests"`
	Envelopes        int64 `json:"envelopes"`
	StreamsCancelled int64 `json:"streams_cancelled"`
	StreamsTruncated int64 `json:"streams_truncated"`
}

// New builds a gateway over the given engine and configuration repository.
// opTimeout caps operations that carry no explicit timeout; zero means no
// server-side deadline.
func New(engine Engine, repo ConfigRepo, opTimeout time.Duration) *Gateway {
	return &Gateway{engine: engine, repo: repo, opTimeout: opTimeout}
}

// RegisterRoutes wires the HTTP handlers on the provided router.
func (g *Gateway) RegisterRoutes(r chi.Router) {
	r.HandleFunc("/api/v0/dht/findpeer", g.handleFindPeer)
	r.HandleFunc("/api/v0/dht/findprovs", g.handleFindProvs)
	r.HandleFunc("/api/v0/dht/get", g.handleGet)
	r.Post("/api/v0/dht/put", g.handlePut)
	r.Post("/api/v0/dht/provide", g.handleProvide)
	r.HandleFunc("/api/v0/dht/query", g.handleQuery)
	r.Post("/api/v0/bootstrap/reset", g.handleBootstrapReset)
	r.Get("/api/v0/stats", g.handleStats)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// Run serves the gateway on addr until ctx is cancelled.
func Run(ctx context.Context, addr string, g *Gateway) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(accessLog(&g.stats))
	g.RegisterRoutes(r)

	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	utils.GoWithRecover(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil)

	logrus.Infof("dht gateway listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type ctxKey int

const reqIDKey ctxKey = 0

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewV4().String()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), reqIDKey, id)))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(reqIDKey).(string)
	return id
}

func accessLog(st *Stats) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st.Requests.Inc()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logrus.WithFields(logrus.Fields{
				"reqid":  requestID(r),
				"status": ww.Status(),
				"took":   time.Since(start).String(),
			}).Debugf("%s %s", r.Method, r.URL.Path)
		})
	}
}

func (g *Gateway) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsSnapshot{
		Requests:         g.stats.Requests.Load(),
		Envelopes:        g.stats.Envelopes.Load(),
		StreamsCancelled: g.stats.StreamsCancelled.Load(),
		StreamsTruncated: g.stats.StreamsTruncated.Load(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// opContext derives the per-call cancellation signal: the client's context
// (disconnect) bounded by the request timeout, or the configured default.
func (g *Gateway) opContext(r *http.Request, p Params) (context.Context, context.CancelFunc) {
	if d := p.Duration("timeout"); d > 0 {
		return context.WithTimeout(r.Context(), d)
	}
	if g.opTimeout > 0 {
		return context.WithTimeout(r.Context(), g.opTimeout)
	}
	return context.WithCancel(r.Context())
}
