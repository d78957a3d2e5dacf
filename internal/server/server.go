package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mohammad-safakhou/resourcefinder/config"
	"github.com/mohammad-safakhou/resourcefinder/internal/runtime"
)

// Options wires the HTTP surface to the rest of the service.
type Options struct {
	Server  config.ServerConfig
	Session config.SessionConfig
	Chat    ChatService
	// Archive is optional; without it the turns endpoint is not mounted.
	Archive TurnLister
	// Metrics is optional; it is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
	Logger      *log.Logger
	Debug       bool
}

// New builds the echo instance with middleware and routes.
func New(opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	baseLogger := opts.Logger
	if baseLogger == nil {
		baseLogger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	e.HTTPErrorHandler = errorHandler(baseLogger, opts.Server.ExposeErrors)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogMethod:   true,
		LogURI:      true,
		LogLatency:  true,
		LogRemoteIP: true,
		Skipper: func(c echo.Context) bool {
			return !opts.Debug && (c.Path() == "/healthz" || c.Path() == opts.MetricsPath)
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			baseLogger.Printf("%d %s %s from %s in %s", v.Status, v.Method, v.URI, v.RemoteIP, v.Latency.Round(time.Millisecond))
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     opts.Server.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, "Cookie"},
		ExposeHeaders:    []string{SessionHeader},
		AllowCredentials: true,
	}))

	health := func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "message": "resource finder API is running"})
	}
	e.GET("/", health)
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	registerDocs(e)
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		e.GET(path, echo.WrapHandler(opts.Metrics))
	}

	var secret []byte
	if opts.Server.SessionSecret != "" {
		secret = []byte(opts.Server.SessionSecret)
		e.Use(runtime.EchoSessionMiddleware(secret, opts.Server.SessionCookie))
	}

	h := &ChatHandler{
		Chat:       opts.Chat,
		Archive:    opts.Archive,
		Secret:     secret,
		Cookie:     opts.Server.SessionCookie,
		SessionTTL: opts.Session.TTL,
	}
	h.Register(e)
	return e
}

// Run serves e on addr until ctx is cancelled, then drains in-flight requests.
func Run(ctx context.Context, e *echo.Echo, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(e, "resourcefinder"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
