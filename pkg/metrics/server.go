package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/papyrus-search/papyrus/pkg/health"
	"github.com/papyrus-search/papyrus/pkg/logger"
)

const (
	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
)

// StartServer serves /metrics, /healthz, and /readyz on port in a background
// goroutine. A nil checker disables the probe endpoints. The returned
// function shuts the listener down.
func StartServer(port int, checker *health.Checker) func(context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	if checker != nil {
		mux.HandleFunc("/healthz", checker.LiveHandler())
		mux.HandleFunc("/readyz", checker.ReadyHandler())
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	log := logger.WithComponent("metrics-server")
	go func() {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("serve failed", "error", err)
		}
	}()
	return srv.Shutdown
}
