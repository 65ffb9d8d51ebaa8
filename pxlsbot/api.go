package pxlsbot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiHealthCheck = "/api/health"
	apiPathStatus  = "/api/status"

	xRequestIDHeader = "X-Request-ID"
)

// API is the status/health HTTP server.
type API struct {
	config           *APIConfig
	engine           *gin.Engine
	httpServer       *http.Server
	listener         net.Listener
	logger           *slog.Logger
	bot              *Bot
	requestMetrics   map[string]int
	requestMetricsMu sync.Mutex
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
	QueueSize               int  `json:"queue_size"`
}

type statusResponse struct {
	Uptime                  string         `json:"uptime"`
	DiscordGatewayConnected bool           `json:"discord_gateway_connected"`
	HeartbeatLatencyMS      int64          `json:"heartbeat_latency_ms"`
	QueueSize               int            `json:"queue_size"`
	StarboardEventsSeen     int64          `json:"starboard_events_seen"`
	StarboardReconciles     int64          `json:"starboard_reconciles"`
	MirrorsSent             int64          `json:"mirrors_sent"`
	MirrorsEdited           int64          `json:"mirrors_edited"`
	MirrorsDeleted          int64          `json:"mirrors_deleted"`
	StarboardErrors         int64          `json:"starboard_errors"`
	GatewayConnects         int64          `json:"gateway_connects"`
	GatewayDisconnects      int64          `json:"gateway_disconnects"`
	CommandsHandled         int64          `json:"commands_handled"`
	RequestMetrics          map[string]int `json:"request_metrics"`
}

func newAPI(b *Bot, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	r := gin.New()

	api := &API{
		config:         config,
		engine:         r,
		bot:            b,
		requestMetrics: map[string]int{},
		logger:         setupLogger.With(loggerNameKey, "api"),
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	r.Use(gin.Recovery())
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware(api),
		cors.New(config.CORS.GINConfig()),
	)

	r.GET(apiHealthCheck, api.healthCheck)
	r.GET(apiPathStatus, api.status)

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(
			ctx,
			a.config.ListenNetwork,
			a.config.Listen,
		)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = ln
	}
	return a.httpServer.Serve(a.listener)
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

func (a *API) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK, healthCheckResponse{
			DiscordGatewayConnected: a.bot.discord.connected.Load(),
			QueueSize:               a.bot.starboard.Len(),
		},
	)
}

func (a *API) status(c *gin.Context) {
	b := a.bot
	a.requestMetricsMu.Lock()
	metrics := make(map[string]int, len(a.requestMetrics))
	for k, v := range a.requestMetrics {
		metrics[k] = v
	}
	a.requestMetricsMu.Unlock()

	c.JSON(
		http.StatusOK, statusResponse{
			Uptime:                  time.Since(b.startedAt).Round(time.Second).String(),
			DiscordGatewayConnected: b.discord.connected.Load(),
			HeartbeatLatencyMS:      b.discord.session.HeartbeatLatency().Milliseconds(),
			QueueSize:               b.starboard.Len(),
			StarboardEventsSeen:     b.starboard.metricEventsSeen.Load(),
			StarboardReconciles:     b.starboard.metricReconciles.Load(),
			MirrorsSent:             b.starboard.metricMirrorsSent.Load(),
			MirrorsEdited:           b.starboard.metricMirrorsEdited.Load(),
			MirrorsDeleted:          b.starboard.metricMirrorsDeleted.Load(),
			StarboardErrors:         b.starboard.metricErrors.Load(),
			GatewayConnects:         b.discord.metricConnects.Load(),
			GatewayDisconnects:      b.discord.metricDisconnects.Load(),
			CommandsHandled:         b.discord.metricMessagesHandled.Load(),
			RequestMetrics:          metrics,
		},
	)
}

func generateRandomHexString(length int) (string, error) {
	bytes := make([]byte, length/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		if requestID, exists := c.Get(xRequestIDHeader); exists {
			c.Header(xRequestIDHeader, requestID.(string))
		}
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details
// included, and sets it in the context for the next call.
func ginContextLogger(c *gin.Context) *slog.Logger {
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		if requestLogger, isLogger := logger.(*slog.Logger); isLogger {
			return requestLogger
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger := slog.Default().With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware increments the request count for each unique
// combination of HTTP method and URL path.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		a.requestMetrics[key]++
	}
}
