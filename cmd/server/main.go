package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"stockscan/backend/internal/cache"
	"stockscan/backend/internal/config"
	"stockscan/backend/internal/events"
	"stockscan/backend/internal/httpapi"
	"stockscan/backend/internal/logs"
	"stockscan/backend/internal/metrics"
	"stockscan/backend/internal/service"
	"stockscan/backend/internal/store"
	"stockscan/backend/internal/store/memory"
	"stockscan/backend/internal/store/sqlstore"
)

func main() {
	cfg := config.Load()
	logger, logCloser, err := logs.New(logs.Options{Level: cfg.LogLevel, FilePath: cfg.LogFile, Console: cfg.LogConsole})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid security configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 3)

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		sqlRepo, err := sqlstore.New(ctx, sqlstore.Options{
			Driver:       cfg.DatabaseDriver,
			DSN:          cfg.DatabaseURL,
			MaxOpenConns: cfg.DBMaxOpenConns,
			MaxIdleConns: cfg.DBMaxIdleConns,
			AutoMigrate:  cfg.DBAutoMigrate,
			Logger:       logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("database unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		repo = sqlRepo
		closers = append(closers, sqlRepo.Close)
		logger.Info().Str("driver", cfg.DatabaseDriver).Bool("image_url", sqlRepo.Capabilities().ImageURL).Msg("repository: sql")
	} else {
		repo = memory.NewSeeded()
		logger.Info().Msg("repository: in-memory")
	}

	sessionTTL := time.Duration(cfg.ImportSessionTTLMinutes) * time.Minute
	var progress cache.ProgressStore = cache.NewMemoryProgressStore(sessionTTL)
	if cfg.RedisAddr != "" {
		redisProgress := cache.NewRedisProgressStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, sessionTTL)
		if err := redisProgress.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, keeping import sessions in memory")
			_ = redisProgress.Close()
		} else {
			progress = redisProgress
			closers = append(closers, redisProgress.Close)
			logger.Info().Str("addr", cfg.RedisAddr).Msg("import sessions: redis")
		}
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaScanTopic, logger)
		publisher = kafkaPublisher
		closers = append(closers, kafkaPublisher.Close)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaScanTopic).Msg("scan events: kafka")
	}

	collectors := metrics.New()
	svc := service.New(repo, service.Options{
		Progress:  progress,
		Events:    publisher,
		Metrics:   collectors,
		Logger:    logger,
		ChunkSize: cfg.ImportChunkSize,
		MaxChunk:  cfg.ImportMaxChunk,
	})

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo, logger)
	if cfg.AdminPassword != "" {
		if err := auth.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			logger.Fatal().Err(err).Msg("bootstrap admin")
		}
	} else {
		logger.Warn().Msg("ADMIN_PASSWORD not set; only existing accounts can log in")
	}

	trustedProxies, err := httpapi.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid TRUSTED_PROXIES")
	}
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: trustedProxies,
		Metrics:        collectors,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Address()).Msg("stockscan backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	closeAll(logger, closers)
	logger.Info().Msg("server stopped")
}

// closeAll releases resources in reverse order of acquisition.
func closeAll(logger zerolog.Logger, closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Error().Err(err).Msg("close error")
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	for _, r := range cfg.ManagerPIN {
		if r < '0' || r > '9' {
			return fmt.Errorf("MANAGER_PIN must contain digits only")
		}
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	if cfg.AdminPassword != "" && len(cfg.AdminPassword) < 8 {
		return fmt.Errorf("ADMIN_PASSWORD must be at least 8 characters")
	}
	if cfg.DatabaseURL != "" && cfg.DatabaseDriver != sqlstore.DriverPostgres && cfg.DatabaseDriver != sqlstore.DriverMySQL {
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q", sqlstore.DriverPostgres, sqlstore.DriverMySQL)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"121212": true, "112233": true, "123123": true, "159753": true,
		"147258": true, "123321": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
