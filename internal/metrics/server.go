package metrics

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// StartServer starts a standalone metrics HTTP server. Returns nil when
// metrics are disabled; otherwise the running server for shutdown.
func StartServer(enabled bool, listen, path string, m *Metrics, logger *zap.Logger) (*fasthttp.Server, error) {
	if !enabled {
		logger.Info("Metrics collection disabled")
		return nil, nil
	}

	handler := func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == path {
			m.ServeHTTP(ctx)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString("Not Found")
	}

	server := &fasthttp.Server{
		Handler:            handler,
		Name:               "harvester-metrics",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1 * 1024,
	}

	go func() {
		logger.Info("Metrics server listening",
			zap.String("listen", listen),
			zap.String("path", path))
		if err := server.ListenAndServe(listen); err != nil {
			logger.Error("Metrics server stopped",
				zap.String("listen", listen),
				zap.Error(err))
		}
	}()

	return server, nil
}
