// Package metrics exposes auth activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rxhome"

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Auth counts logins, MFA checks, token validations and identity store
// writes. It satisfies auth.Recorder, and ObserveSave is a
// storage.SaveObserver.
type Auth struct {
	logins *prometheus.CounterVec
	mfa    *prometheus.CounterVec
	tokens *prometheus.CounterVec
	saves  *prometheus.CounterVec
}

// NewAuth creates the auth collectors and registers them with reg.
func NewAuth(reg prometheus.Registerer) *Auth {
	a := &Auth{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Finished login flows by provider type and result.",
		}, []string{"provider_type", "result"}),
		mfa: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "mfa_validations_total",
			Help:      "MFA code checks by module and result.",
		}, []string{"module", "result"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "access_token_validations_total",
			Help:      "Access token validations by result.",
		}, []string{"result"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "saves_total",
			Help:      "Document writes by key and result.",
		}, []string{"key", "result"}),
	}
	reg.MustRegister(a.logins, a.mfa, a.tokens, a.saves)
	return a
}

// ObserveLogin counts a finished login flow.
func (a *Auth) ObserveLogin(providerType, result string) {
	a.logins.WithLabelValues(providerType, result).Inc()
}

// ObserveMFA counts one MFA code check.
func (a *Auth) ObserveMFA(moduleID string, valid bool) {
	a.mfa.WithLabelValues(moduleID, validity(valid)).Inc()
}

// ObserveTokenValidation counts one access token check.
func (a *Auth) ObserveTokenValidation(valid bool) {
	a.tokens.WithLabelValues(validity(valid)).Inc()
}

// ObserveSave counts one document write.
func (a *Auth) ObserveSave(key string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	a.saves.WithLabelValues(key, result).Inc()
}

func validity(ok bool) string {
	if ok {
		return "valid"
	}
	return "invalid"
}

// HTTP instruments the API router.
type HTTP struct {
	inFlight prometheus.Gauge
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTP creates the HTTP collectors and registers them with reg.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	h := &HTTP{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(h.inFlight, h.requests, h.duration)
	return h
}

// Middleware records every request. Requests are labelled with the chi
// route pattern so path parameters do not explode cardinality.
func (h *HTTP) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.inFlight.Inc()
		defer h.inFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := strconv.Itoa(sw.code)
		h.duration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		h.requests.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
