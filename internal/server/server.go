// Package server assembles the HTTP surface: session issuance, the websocket
// channel endpoint, health and metrics.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/initdata"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/observe"
	"github.com/digitalsoupteam/Kraken-tap-to-earn/internal/session"
)

// SessionIssuer issues signed session tokens.
type SessionIssuer interface {
	Anonymous(ctx context.Context, referrerID string) (string, error)
	Telegram(ctx context.Context, raw, referrerID string) (string, error)
}

type Options struct {
	WSPath      string
	CORSOrigins []string
	Logger      zerolog.Logger
}

type anonymousRequest struct {
	ReferrerID string `json:"referrer_id" form:"referrer_id"`
}

type telegramRequest struct {
	InitData   string `json:"initData" form:"initData"`
	ReferrerID string `json:"referrer_id" form:"referrer_id"`
}

type tokenResponse struct {
	JWT string `json:"jwt"`
}

// NewRouter builds the gin engine. ws serves the channel upgrade.
func NewRouter(issuer SessionIssuer, ws http.HandlerFunc, opts Options) *gin.Engine {
	if opts.WSPath == "" {
		opts.WSPath = "/ws"
	}

	r := gin.New()
	r.Use(gin.Recovery(), observe.RequestLogger(opts.Logger), observe.RequestMetrics())
	r.Use(corsMiddleware(opts.CORSOrigins))

	started := time.Now()
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(started).String(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET(opts.WSPath, gin.WrapF(ws))

	api := r.Group("/api")
	api.POST("/anonymous_session", anonymousSession(issuer))
	api.POST("/telegram_session", telegramSession(issuer))
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization")
	return cors.New(cfg)
}

func anonymousSession(issuer SessionIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req anonymousRequest
		// an empty body, sized or chunked, means no referrer
		if err := c.ShouldBind(&req); err != nil && !errors.Is(err, io.EOF) {
			c.String(http.StatusBadRequest, "Invalid request")
			return
		}
		token, err := issuer.Anonymous(c.Request.Context(), req.ReferrerID)
		switch {
		case errors.Is(err, session.ErrInvalidReferrer):
			c.String(http.StatusBadRequest, "Invalid referrer")
		case err != nil:
			_ = c.Error(err)
			c.String(http.StatusInternalServerError, "Internal error")
		default:
			c.JSON(http.StatusOK, tokenResponse{JWT: token})
		}
	}
}

func telegramSession(issuer SessionIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req telegramRequest
		if err := c.ShouldBind(&req); err != nil || req.InitData == "" {
			c.String(http.StatusBadRequest, "Invalid initData")
			return
		}
		token, err := issuer.Telegram(c.Request.Context(), req.InitData, req.ReferrerID)
		switch {
		case errors.Is(err, initdata.ErrInvalidInitData), errors.Is(err, initdata.ErrMissingUser):
			c.String(http.StatusBadRequest, "Invalid initData")
		case errors.Is(err, session.ErrInvalidReferrer):
			c.String(http.StatusBadRequest, "Invalid referrer")
		case err != nil:
			_ = c.Error(err)
			c.String(http.StatusInternalServerError, "Internal error")
		default:
			c.JSON(http.StatusOK, tokenResponse{JWT: token})
		}
	}
}
