package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/health"
)

// NewMux builds the scrape and probe routes. checker may be nil, in which
// case the health routes are omitted.
func NewMux(m *Metrics, checker *health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	if checker != nil {
		mux.HandleFunc("/health/live", checker.LiveHandler())
		mux.HandleFunc("/health/ready", checker.ReadyHandler())
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><h1>Kafka Search Relay</h1><p><a href="/metrics">/metrics</a> | <a href="/health/ready">/health/ready</a></p></body></html>`)
	})
	return mux
}

// StartServer serves handler on the given port in the background and returns
// its shutdown function. handler is usually NewMux wrapped in middleware.
func StartServer(port int, handler http.Handler) (shutdown func(context.Context) error) {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("metrics server listening", "component", "metrics", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "component", "metrics", "error", err)
		}
	}()

	return server.Shutdown
}
