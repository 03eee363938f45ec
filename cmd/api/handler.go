package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"mailrecall-backend/pkg/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

type Handler struct {
	app    *App
	config *config.Config
	logger *zap.Logger
}

func NewHandler(app *App, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		app:    app,
		config: cfg,
		logger: logger,
	}
}

// Start serves HTTP on addr until ctx is canceled, then drains in-flight requests.
func (h *Handler) Start(ctx context.Context, addr string) error {
	if h.config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewEngine(h.app.Tokens, h.app.EmailHandler(), h.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("[HTTP] Listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	h.logger.Info("[HTTP] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
