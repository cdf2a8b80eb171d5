// Package status serves a read-only HTTP view of a running trader.
package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tungnguyentu/trade/account"
	"github.com/tungnguyentu/trade/logger"
	"github.com/tungnguyentu/trade/regime"
)

// Source is what the router reads from.
type Source interface {
	Account() account.Summary
	Regimes() []regime.State
}

func Router(src Source, mode string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	started := time.Now()
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"mode":   mode,
			"uptime": time.Since(started).Round(time.Second).String(),
		})
	})
	r.GET("/account", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Account())
	})
	r.GET("/regimes", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Regimes())
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Serve runs h on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, log logger.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("status_listening", logger.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
