package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"maid/channel"
)

type health struct {
	Status   string   `json:"status"`
	Sessions int      `json:"sessions"`
	Pending  int      `json:"pending"`
	Services []string `json:"services"`
}

// adminRouter serves /metrics from gatherer and /healthz from ch.
func adminRouter(ch *channel.Channel, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		jsoniter.NewEncoder(w).Encode(health{
			Status:   "ok",
			Sessions: len(ch.Sessions()),
			Pending:  ch.Pending(),
			Services: ch.Services(),
		})
	})
	return r
}

// runAdmin serves h on addr until ctx is done.
func runAdmin(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("admin endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("admin endpoint stopped", zap.Error(err))
	}
}
