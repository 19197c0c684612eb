package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/geotap/internal/config"
	"github.com/gokatarajesh/geotap/internal/logging"
	apierrors "github.com/gokatarajesh/geotap/pkg/http/errors"
)

// WSUpgrader handles WebSocket upgrades for round connections.
var WSUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to the app's origins once the web client has a fixed host
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Registrar mounts a feature's routes on the shared mux.
type Registrar func(mux *http.ServeMux)

// Deps holds the optional infrastructure the base routes report on.
type Deps struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Registry *prometheus.Registry
}

// NewHTTPServer wires base routes (health, metrics, ping), the round
// WebSocket endpoint and every registrar.
func NewHTTPServer(cfg *config.App, logger zerolog.Logger, deps Deps, roundWS http.HandlerFunc, registrars ...Registrar) *http.Server {
	mux := NewMux(logger, deps, roundWS, registrars...)
	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
}

// NewMux builds the route table without binding an address.
func NewMux(logger zerolog.Logger, deps Deps, roundWS http.HandlerFunc, registrars ...Registrar) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if deps.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	mux.HandleFunc("GET /v1/ping", func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.IntoContext(r.Context(), logger)
		if err := pingDependencies(ctx, deps.Pool, deps.Redis); err != nil {
			l := logging.FromContext(ctx)
			l.Error().Err(err).Msg("dependency ping failed")
			apierrors.RespondError(w, http.StatusBadGateway, apierrors.ErrCodeUpstreamError, "upstream error")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pong":true}`))
	})

	if roundWS != nil {
		mux.HandleFunc("GET /ws/rounds", roundWS)
	} else {
		mux.HandleFunc("GET /ws/rounds", func(w http.ResponseWriter, r *http.Request) {
			apierrors.RespondError(w, http.StatusNotImplemented, apierrors.ErrCodeServiceUnavailable, "round handler not configured")
		})
	}

	for _, register := range registrars {
		if register != nil {
			register(mux)
		}
	}
	return mux
}

// pingDependencies checks whichever backends are configured.
func pingDependencies(ctx context.Context, pool *pgxpool.Pool, rdb *redis.Client) error {
	var errs []error
	if pool != nil {
		if err := pool.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if rdb != nil {
		if err := rdb.Ping(ctx).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
