// Command server starts the MediaVault HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"mediavault/internal/api"
	"mediavault/internal/audit"
	"mediavault/internal/auth"
	"mediavault/internal/media"
	"mediavault/internal/observability/logging"
	"mediavault/internal/server"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	mediaRoot := flag.String("media-root", "", "directory for locally stored media")
	storageDriver := flag.String("storage-driver", "", "media storage driver (local or s3)")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint (e.g. 127.0.0.1:9000)")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket name")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	maxUploadBytes := flag.Int64("max-upload-bytes", 0, "maximum accepted upload size in bytes (-1 disables the cap)")
	allowedCategories := flag.String("allowed-categories", "", "comma separated accepted upload categories (image, video)")
	sessionTTL := flag.Duration("session-ttl", 0, "lifetime of an issued session")
	sessionStoreDriver := flag.String("session-store", "", "session store driver (memory, redis, or postgres)")
	sessionRedisAddr := flag.String("session-redis-addr", "", "Redis address for the session store")
	sessionRedisPassword := flag.String("session-redis-password", "", "Redis password for the session store")
	sessionPostgresDSN := flag.String("session-postgres-dsn", "", "Postgres DSN for the session store")
	auditDriver := flag.String("audit-driver", "", "audit log driver (file, postgres, or memory)")
	auditFile := flag.String("audit-file", "", "path to the JSONL audit log file")
	auditPostgresDSN := flag.String("audit-postgres-dsn", "", "Postgres DSN for the audit log")
	staticDir := flag.String("static-dir", "", "directory of static UI assets served at /")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis rate limiter operations")
	thumbWorkers := flag.Int("thumb-workers", 0, "number of thumbnail rendering workers")
	thumbQueueSize := flag.Int("thumb-queue-size", 0, "thumbnail queue capacity")
	thumbTimeout := flag.Duration("thumb-timeout", 0, "timeout for rendering a single thumbnail")
	thumbMaxEdge := flag.Int("thumb-max-edge", 0, "longest edge of rendered thumbnails in pixels")
	ffmpegBinary := flag.String("ffmpeg", "", "path to the ffmpeg binary used for video frame grabs")
	cookieSecure := flag.Bool("cookie-secure", false, "always mark the session cookie Secure")
	flag.Parse()

	logger := logging.Init(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("MEDIAVAULT_LOG_LEVEL"))})

	serverMode := modeValue(*mode, os.Getenv("MEDIAVAULT_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("MEDIAVAULT_ADDR"))

	adminSecret := strings.TrimSpace(os.Getenv("MEDIAVAULT_ADMIN_SECRET"))
	viewerSecret := strings.TrimSpace(os.Getenv("MEDIAVAULT_VIEWER_SECRET"))
	verifier, err := auth.NewVerifier(adminSecret, viewerSecret)
	if err != nil {
		logger.Error("invalid credential configuration", "error", err)
		os.Exit(1)
	}

	backend, err := configureMediaBackend(mediaBackendConfig{
		Driver:    firstNonEmpty(*storageDriver, os.Getenv("MEDIAVAULT_STORAGE_DRIVER")),
		Root:      resolveMediaRoot(*mediaRoot, os.Getenv("MEDIAVAULT_MEDIA_ROOT")),
		Endpoint:  firstNonEmpty(*objectEndpoint, os.Getenv("MEDIAVAULT_OBJECT_ENDPOINT")),
		AccessKey: firstNonEmpty(*objectAccessKey, os.Getenv("MEDIAVAULT_OBJECT_ACCESS_KEY")),
		SecretKey: firstNonEmpty(*objectSecretKey, os.Getenv("MEDIAVAULT_OBJECT_SECRET_KEY")),
		Bucket:    firstNonEmpty(*objectBucket, os.Getenv("MEDIAVAULT_OBJECT_BUCKET")),
		UseSSL:    resolveBool(*objectUseSSL, "MEDIAVAULT_OBJECT_USE_SSL"),
	})
	if err != nil {
		logger.Error("failed to open media storage", "error", err)
		os.Exit(1)
	}

	sessionConfig, err := resolveSessionStoreConfig(
		*sessionStoreDriver,
		os.Getenv("MEDIAVAULT_SESSION_STORE"),
		firstNonEmpty(*sessionRedisAddr, os.Getenv("MEDIAVAULT_SESSION_REDIS_ADDR")),
		firstNonEmpty(*sessionPostgresDSN, os.Getenv("MEDIAVAULT_SESSION_POSTGRES_DSN")),
	)
	if err != nil {
		logger.Error("failed to resolve session store", "error", err)
		os.Exit(1)
	}

	var (
		sessionStore  auth.SessionStore
		sessionCloser func(context.Context) error
	)
	switch sessionConfig.Driver {
	case "memory":
		sessionStore = auth.NewMemorySessionStore()
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     sessionConfig.RedisAddr,
			Password: firstNonEmpty(*sessionRedisPassword, os.Getenv("MEDIAVAULT_SESSION_REDIS_PASSWORD")),
		})
		redisStore, err := auth.NewRedisSessionStore(client)
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		sessionStore = redisStore
		sessionCloser = func(context.Context) error { return client.Close() }
	case "postgres":
		pgStore, err := auth.NewPostgresSessionStore(sessionConfig.DSN)
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		sessionStore = pgStore
		sessionCloser = func(ctx context.Context) error { return pgStore.Close(ctx) }
	default:
		logger.Error("unsupported session store driver", "driver", sessionConfig.Driver)
		os.Exit(1)
	}

	ttl := resolveDuration(*sessionTTL, "MEDIAVAULT_SESSION_TTL", 30*time.Minute)
	sessions := auth.NewSessionManager(ttl, auth.WithStore(sessionStore))

	auditLog, auditCloser, err := configureAuditLog(
		firstNonEmpty(*auditDriver, os.Getenv("MEDIAVAULT_AUDIT_DRIVER")),
		firstNonEmpty(*auditFile, os.Getenv("MEDIAVAULT_AUDIT_FILE")),
		firstNonEmpty(*auditPostgresDSN, os.Getenv("MEDIAVAULT_AUDIT_POSTGRES_DSN")),
	)
	if err != nil {
		logger.Error("failed to open audit log", "error", err)
		os.Exit(1)
	}

	renderer := media.NewThumbnailRenderer()
	if edge := resolveInt(*thumbMaxEdge, "MEDIAVAULT_THUMB_MAX_EDGE"); edge > 0 {
		renderer.MaxEdge = edge
	}
	if bin := firstNonEmpty(*ffmpegBinary, os.Getenv("MEDIAVAULT_FFMPEG")); bin != "" {
		renderer.FFmpegBinary = bin
	}
	thumbnails := media.NewThumbnailWorker(media.ThumbnailWorkerConfig{
		Backend:   backend,
		Renderer:  renderer,
		Workers:   resolveInt(*thumbWorkers, "MEDIAVAULT_THUMB_WORKERS"),
		QueueSize: resolveInt(*thumbQueueSize, "MEDIAVAULT_THUMB_QUEUE_SIZE"),
		Timeout:   resolveDuration(*thumbTimeout, "MEDIAVAULT_THUMB_TIMEOUT", 0),
		Logger:    logging.WithComponent(logger, "thumbnails"),
	})
	thumbnails.Start()

	cookiePolicy := api.DefaultSessionCookiePolicy()
	if serverMode == "production" || resolveBool(*cookieSecure, "MEDIAVAULT_COOKIE_SECURE") {
		cookiePolicy.SecureMode = api.SessionCookieSecureAlways
	}

	categories, err := parseCategories(firstNonEmpty(*allowedCategories, os.Getenv("MEDIAVAULT_ALLOWED_CATEGORIES")))
	if err != nil {
		logger.Error("invalid allowed categories", "error", err)
		os.Exit(1)
	}
	validator := media.NewValidator(resolveInt64(*maxUploadBytes, "MEDIAVAULT_MAX_UPLOAD_BYTES"), categories...)
	if validator.MaxSizeBytes == 0 {
		logger.Warn("upload size cap disabled, uploads are unbounded")
	}

	handler := &api.Handler{
		Verifier:            verifier,
		Sessions:            sessions,
		Media:               backend,
		Validator:           validator,
		Thumbnails:          thumbnails,
		Audit:               auditLog,
		Logger:              logging.WithComponent(logger, "api"),
		SessionCookiePolicy: cookiePolicy,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	sessionPurgeStop := startSessionPurgeWorker(workerCtx, logging.WithComponent(logger, "session-purger"), sessions, 15*time.Minute)
	defer sessionPurgeStop()

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "MEDIAVAULT_RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "MEDIAVAULT_RATE_GLOBAL_BURST"),
		LoginLimit:    resolveInt(*loginLimit, "MEDIAVAULT_RATE_LOGIN_LIMIT"),
		LoginWindow:   resolveDuration(*loginWindow, "MEDIAVAULT_RATE_LOGIN_WINDOW", 0),
		RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("MEDIAVAULT_RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("MEDIAVAULT_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*rateRedisTimeout, "MEDIAVAULT_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	tlsCfg := server.TLSConfig{
		CertFile: firstNonEmpty(*tlsCert, os.Getenv("MEDIAVAULT_TLS_CERT")),
		KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("MEDIAVAULT_TLS_KEY")),
	}

	srv, err := server.New(handler, server.Config{
		Addr:      listenAddr,
		TLS:       tlsCfg,
		RateLimit: rateCfg,
		StaticDir: firstNonEmpty(*staticDir, os.Getenv("MEDIAVAULT_STATIC_DIR")),
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("MediaVault listening", "addr", listenAddr, "mode", serverMode)
		if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
			logger.Info("TLS enabled", "cert_file", tlsCfg.CertFile)
		}
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	workerCancel()
	sessionPurgeStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	if err := thumbnails.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop thumbnail workers", "error", err)
	}

	if sessionCloser != nil {
		if err := sessionCloser(ctx); err != nil {
			logger.Warn("failed to close session store", "error", err)
		}
	}

	if auditCloser != nil {
		if err := auditCloser(ctx); err != nil {
			logger.Warn("failed to close audit log", "error", err)
		}
	}

	logger.Info("server stopped")
}

type mediaBackendConfig struct {
	Driver    string
	Root      string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func configureMediaBackend(cfg mediaBackendConfig) (media.Backend, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		if cfg.Endpoint != "" && cfg.Bucket != "" {
			driver = "s3"
		} else {
			driver = "local"
		}
	}
	switch driver {
	case "local":
		return media.NewLocalBackend(media.LocalConfig{Root: cfg.Root})
	case "s3":
		if cfg.Endpoint == "" || cfg.Bucket == "" {
			return nil, fmt.Errorf("s3 storage requires an endpoint and bucket")
		}
		return media.NewObjectBackend(context.Background(), media.ObjectConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

type sessionStoreConfig struct {
	Driver    string
	RedisAddr string
	DSN       string
}

// resolveSessionStoreConfig picks the session store driver, inferring one
// from the configured addresses when no driver is named.
func resolveSessionStoreConfig(flagDriver, envDriver, redisAddr, postgresDSN string) (sessionStoreConfig, error) {
	driver := strings.ToLower(strings.TrimSpace(flagDriver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envDriver))
	}
	if driver == "" {
		switch {
		case postgresDSN != "":
			driver = "postgres"
		case redisAddr != "":
			driver = "redis"
		default:
			driver = "memory"
		}
	}

	switch driver {
	case "memory":
		return sessionStoreConfig{Driver: "memory"}, nil
	case "redis":
		if redisAddr == "" {
			return sessionStoreConfig{}, fmt.Errorf("redis session store selected without address")
		}
		return sessionStoreConfig{Driver: "redis", RedisAddr: redisAddr}, nil
	case "postgres":
		if postgresDSN == "" {
			return sessionStoreConfig{}, fmt.Errorf("postgres session store selected without DSN")
		}
		return sessionStoreConfig{Driver: "postgres", DSN: postgresDSN}, nil
	default:
		return sessionStoreConfig{}, fmt.Errorf("unsupported session store driver %q", driver)
	}
}

func configureAuditLog(driver, filePath, postgresDSN string) (audit.Log, func(context.Context) error, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		switch {
		case postgresDSN != "":
			driver = "postgres"
		case filePath != "":
			driver = "file"
		default:
			driver = "memory"
		}
	}
	switch driver {
	case "memory":
		return audit.NewMemoryLog(0), nil, nil
	case "file":
		if filePath == "" {
			filePath = "data/audit.log"
		}
		log, err := audit.NewFileLog(filePath)
		if err != nil {
			return nil, nil, err
		}
		return log, nil, nil
	case "postgres":
		if postgresDSN == "" {
			return nil, nil, fmt.Errorf("postgres audit log selected without DSN")
		}
		log, err := audit.NewPostgresLog(postgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return log, log.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported audit log driver %q", driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":443"
	}
	return ":8080"
}

func parseCategories(raw string) ([]media.Category, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var categories []media.Category
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		if trimmed == "" {
			continue
		}
		category := media.Category(trimmed)
		if category != media.CategoryImage && category != media.CategoryVideo {
			return nil, fmt.Errorf("unknown category %q", trimmed)
		}
		categories = append(categories, category)
	}
	return categories, nil
}

func resolveMediaRoot(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/media"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue != 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
