package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"staybook/internal/infra/config"
	"staybook/internal/infra/obs"
)

type PropertyHTTP interface {
	Quote(c *gin.Context)
	Reserve(c *gin.Context)
	Calendar(c *gin.Context)
}

type BookingHTTP interface {
	Create(c *gin.Context)
	Get(c *gin.Context)
	Cancel(c *gin.Context)
}

type PaymentHTTP interface {
	Webhook(c *gin.Context)
	Return(c *gin.Context)
}

// Handlers groups the HTTP adapters. Nil groups are not mounted.
type Handlers struct {
	Property PropertyHTTP
	Booking  BookingHTTP
	Payment  PaymentHTTP
	Metrics  http.Handler
}

type route struct {
	method  string
	path    string
	handler gin.HandlerFunc
}

func (h Handlers) routes() []route {
	var out []route
	if h.Property != nil {
		out = append(out,
			route{http.MethodPost, "/properties/:id/quote", h.Property.Quote},
			route{http.MethodPost, "/properties/:id/reserve", h.Property.Reserve},
			route{http.MethodGet, "/properties/:id/calendar", h.Property.Calendar},
		)
	}
	if h.Booking != nil {
		out = append(out,
			route{http.MethodPost, "/bookings", h.Booking.Create},
			route{http.MethodGet, "/bookings/:id", h.Booking.Get},
			route{http.MethodPost, "/bookings/:id/cancel", h.Booking.Cancel},
		)
	}
	if h.Payment != nil {
		out = append(out,
			route{http.MethodPost, "/payments/webhook/:provider", h.Payment.Webhook},
			route{http.MethodGet, "/payments/return/:provider", h.Payment.Return},
		)
	}
	return out
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter mounts probes and metrics at the root and the booking API under /api/v1.
func NewRouter(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := ginMode(cfg.Env)
	gin.SetMode(mode)

	router := gin.New()
	router.Use(gin.Recovery(), obsMW.RequestID(), obsMW.LoggerMiddleware(), cors.New(corsConfig(cfg.CORSOrigins)))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}

	api := router.Group("/api/v1")
	routes := h.routes()
	for _, r := range routes {
		api.Handle(r.method, r.path, r.handler)
	}
	if obsMW.Logger != nil {
		obsMW.Logger.Info("http router ready", "gin_mode", mode, "routes", len(routes))
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Idempotency-Key", "X-Customer-ID"},
		ExposeHeaders: []string{"Content-Length", "Content-Type", obs.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func ginMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug", "dev", "local":
		return gin.DebugMode
	case "test", "testing":
		return gin.TestMode
	}
	return gin.ReleaseMode
}
