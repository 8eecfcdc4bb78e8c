package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/Ni-011/voiceMD-sub000/internal/config"
	"github.com/Ni-011/voiceMD-sub000/internal/dictation"
	"github.com/Ni-011/voiceMD-sub000/internal/domain/intake"
	"github.com/Ni-011/voiceMD-sub000/internal/domain/patient"
	"github.com/Ni-011/voiceMD-sub000/internal/domain/visit"
	"github.com/Ni-011/voiceMD-sub000/internal/extraction"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/apierr"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/auth"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/db"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/mail"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/metrics"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/middleware"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/tracing"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/validate"
)

const serviceName = "voicemd"

// routeRegistrar is implemented by every domain handler.
type routeRegistrar interface {
	RegisterRoutes(g *echo.Group)
}

func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger("", "info")
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: serviceName,
		SampleRate:  cfg.TracingSampleRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracing")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	m := metrics.NewCollector(serviceName)

	gen, err := newGenerator(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create extraction model client")
	}
	extractor := extraction.NewClient(gen,
		extraction.WithLogger(logger),
		extraction.WithMetrics(m),
		extraction.WithTimeout(cfg.ExtractionTimeout),
	)

	var tx db.Transactor = db.NoTx{}
	if cfg.IntakeTransactional {
		tx = db.NewTransactor(pool)
	}

	patientRepo := patient.NewRepo(pool)
	visitSvc := visit.NewService(visit.NewRepo(pool), patientRepo, extractor, m, logger)
	intakeSvc := intake.NewService(patientRepo, visitSvc, extractor, tx, m, logger)

	var sender mail.EmailSender
	if cfg.MailEnabled() {
		s, err := mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure smtp")
		}
		sender = s
	} else {
		logger.Warn().Msg("SMTP not configured; contact relay disabled")
	}

	e := newRouter(cfg, logger, m, pool,
		intake.NewHandler(intakeSvc),
		patient.NewHandler(patient.NewService(patientRepo, logger)),
		visit.NewHandler(visitSvc),
		mail.NewHandler(mail.NewService(sender, cfg.MailTo, m, logger)),
		dictation.NewHandler(dictation.HandlerConfig{
			AllowedOrigins: cfg.CORSOrigins,
			RetryBudget:    cfg.DictationRetryBudget,
			Logger:         logger,
			Metrics:        m,
		}),
	)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newGenerator returns the Gemini client. Without an API key in development
// every extraction fails with a model error instead of refusing to start.
func newGenerator(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (extraction.Generator, error) {
	if cfg.GeminiAPIKey == "" {
		logger.Warn().Msg("GEMINI_API_KEY not set; dictation structuring disabled")
		return extraction.GeneratorFunc(func(context.Context, string) (string, error) {
			return "", errors.New("extraction model is not configured")
		}), nil
	}
	return extraction.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
}

func newRouter(cfg *config.Config, logger zerolog.Logger, m *metrics.Collector, pinger db.Pinger, handlers ...routeRegistrar) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apierr.ErrorHandler(logger)
	e.Validator = validate.New()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(m))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	e.Use(authMiddleware(cfg))
	e.Use(middleware.RateLimit(rl))
	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": "0.1.0"})
	})
	e.GET("/health/db", db.HealthHandler(pinger))
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	api := e.Group("")
	for _, h := range handlers {
		h.RegisterRoutes(api)
	}
	return e
}

// authMiddleware verifies hosted-IdP tokens, or HS256 tokens when a shared
// key is configured. Development admits anonymous requests as a fixed
// clinician but still verifies tokens that are sent.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	var verify echo.MiddlewareFunc
	if cfg.AuthIssuer != "" || len(cfg.SigningKey()) > 0 {
		verify = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: cfg.SigningKey(),
			Skipper:    auth.AuthSkipper,
		})
	}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(verify)
	}
	if verify == nil {
		// Validate rejects this outside development.
		return func(echo.HandlerFunc) echo.HandlerFunc {
			return func(echo.Context) error {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication is not configured")
			}
		}
	}
	return verify
}
