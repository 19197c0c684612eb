package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestBaseRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "geotap_test_total"})
	reg.MustRegister(counter)
	counter.Inc()

	mux := NewMux(zerolog.Nop(), Deps{Registry: reg}, nil)

	rec := get(t, mux, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(t, mux, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "geotap_test_total 1")

	assert.Equal(t, http.StatusNotImplemented, get(t, mux, "/ws/rounds").Code)
}

func TestPingChecksConfiguredBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mux := NewMux(zerolog.Nop(), Deps{Redis: client}, nil)
	rec := get(t, mux, "/v1/ping")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pong":true}`, rec.Body.String())

	mr.Close()
	assert.Equal(t, http.StatusBadGateway, get(t, mux, "/v1/ping").Code)
}

func TestRegistrarsAreMounted(t *testing.T) {
	called := false
	mux := NewMux(zerolog.Nop(), Deps{}, nil, func(m *http.ServeMux) {
		m.HandleFunc("GET /v1/custom", func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusNoContent)
		})
	}, nil)

	assert.Equal(t, http.StatusNoContent, get(t, mux, "/v1/custom").Code)
	assert.True(t, called)
}
