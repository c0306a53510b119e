package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/vexaro/backend-vpn/internal/app"
	"github.com/vexaro/backend-vpn/internal/audit"
	"github.com/vexaro/backend-vpn/internal/auth"
	"github.com/vexaro/backend-vpn/internal/common"
	"github.com/vexaro/backend-vpn/internal/config"
	"github.com/vexaro/backend-vpn/internal/db"
	"github.com/vexaro/backend-vpn/internal/events"
	"github.com/vexaro/backend-vpn/internal/health"
	"github.com/vexaro/backend-vpn/internal/notify"
	"github.com/vexaro/backend-vpn/internal/obs"
	"github.com/vexaro/backend-vpn/internal/payment"
	"github.com/vexaro/backend-vpn/internal/plan"
	"github.com/vexaro/backend-vpn/internal/pricing"
	"github.com/vexaro/backend-vpn/internal/promo"
	"github.com/vexaro/backend-vpn/internal/queue"
	"github.com/vexaro/backend-vpn/internal/ratelimit"
	"github.com/vexaro/backend-vpn/internal/resilience"
	"github.com/vexaro/backend-vpn/internal/security"
	"github.com/vexaro/backend-vpn/internal/subscription"
	"github.com/vexaro/backend-vpn/internal/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "vpn")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "vpn-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if envBool("DB_AUTO_MIGRATE", true) {
		// The migrator wants the pgx5 URL scheme.
		migrationURL := strings.Replace(cfg.DatabaseURL, "postgres://", "pgx5://", 1)
		migrationURL = strings.Replace(migrationURL, "postgresql://", "pgx5://", 1)
		migrator, err := db.NewMigrator(migrationURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise migrator")
		}
		if err := app.RunMigrations(migrator); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "vpn-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	queries := db.New(pool)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	planService, err := plan.NewService(plan.ServiceConfig{
		Queries: queries,
		Cache:   plan.NewCache(redisClient, cfg.PlanCacheTTL),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise plan service")
	}
	planHandler := plan.NewHandler(planService)
	planAdmin := &plan.AdminHandler{Q: queries, Service: planService}

	authService, err := auth.NewService(auth.Config{
		Store:           queries,
		Secret:          cfg.JWTSecret,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	accessCookie := envOrDefault("AUTH_ACCESS_COOKIE_NAME", "at")
	refreshCookie := envOrDefault("AUTH_REFRESH_COOKIE_NAME", "rt")
	authHandler := &auth.Handler{
		Service:           authService,
		AccessCookieName:  accessCookie,
		RefreshCookieName: refreshCookie,
		CookieDomain:      cfg.CookieDomain,
		CookieSecure:      cfg.CookieSecure,
		CookieSameSite:    cfg.CookieSameSite,
	}
	authMiddleware := auth.Middleware{Service: authService, AccessCookie: accessCookie}

	userSvc := &user.Service{Q: queries}
	userHandler := &user.Handler{Svc: userSvc}
	userAdmin := &user.AdminHandler{Svc: userSvc}

	promoSvc := &promo.Service{Q: queries}
	promoHandler := &promo.Handler{Q: queries, Svc: promoSvc}

	engine := &pricing.Engine{
		Plans:    planService,
		Personal: userSvc,
		Profiles: userSvc,
		Promos:   promo.Source{Svc: promoSvc},
		Currency: cfg.Currency,
	}

	enqueuer := queue.Enqueuer{R: redisClient, MaxAttempts: cfg.WebhookMaxAttempts}

	notifyStore := notify.NewStore(queries)
	dispatcher := &notify.Dispatcher{
		Store:              notifyStore,
		Client:             notify.HttpClient(envInt("WEBHOOK_REQUEST_TIMEOUT_MS", 5000), envBool("WEBHOOK_ALLOW_INSECURE_TLS", false)),
		Breaker:            resilience.NewBreaker(envInt("WEBHOOK_BREAKER_MIN_REQUESTS", 10), envFloat("WEBHOOK_BREAKER_FAILURE_RATIO", 0.5), envDurationMillis("WEBHOOK_BREAKER_OPEN_MS", 30000)).WithTarget("webhook").WithLogger(logger),
		Queue:              enqueuer,
		BackoffBaseSec:     cfg.WebhookBackoffBaseSec,
		DefaultMaxAttempts: cfg.WebhookMaxAttempts,
		Enabled:            cfg.WebhookDispatchEnabled,
		Replay:             notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL:          cfg.WebhookReplayTTL,
	}
	telegram := notify.TelegramNotifier{
		Client:   notify.HttpClient(envInt("TELEGRAM_REQUEST_TIMEOUT_MS", 5000), false),
		Breaker:  resilience.NewBreaker(envInt("TELEGRAM_BREAKER_MIN_REQUESTS", 10), envFloat("TELEGRAM_BREAKER_FAILURE_RATIO", 0.5), envDurationMillis("TELEGRAM_BREAKER_OPEN_MS", 30000)).WithTarget("telegram").WithLogger(logger),
		BotToken: cfg.TelegramBotToken,
		Enabled:  cfg.TelegramEnabled,
		Users:    queries,
	}
	bus := &events.Bus{
		Store:     queries,
		Scheduler: dispatcher,
		Notifiers: []events.Notifier{telegram},
	}

	subscriptionSvc := &subscription.Service{
		Q:      queries,
		Engine: engine,
		Events: bus,
	}
	subscriptionHandler := &subscription.Handler{Svc: subscriptionSvc}

	providers := map[string]payment.Provider{
		"yookassa": payment.YooKassa{
			ShopID:    cfg.YooKassaShopID,
			SecretKey: cfg.YooKassaSecretKey,
			Sandbox:   cfg.YooKassaSandbox,
		},
		"cryptopay": payment.CryptoPay{
			APIToken: cfg.CryptoPayAPIToken,
		},
	}
	paymentSvc := &payment.Service{
		Q:               queries,
		Providers:       providers,
		DefaultProvider: cfg.DefaultPaymentProvider,
		Currency:        cfg.Currency,
		IntentTTL:       cfg.PaymentIntentTTL,
		CallbackBaseURL: cfg.PaymentCallbackBaseURL,
	}
	paymentHandler := &payment.Handler{Svc: paymentSvc, Q: queries}
	webhookHandler := payment.Webhook{
		Q:         queries,
		Pool:      pool,
		Providers: providers,
		Replay:    redisClient,
		ReplayTTL: cfg.WebhookReplayTTL,
		Promo:     promoSvc,
		Users:     userSvc,
		Subs:      subscriptionSvc,
		Events:    bus,
	}

	notifyAdmin := &notify.AdminHandler{Store: notifyStore, Disp: dispatcher}
	queueAdmin := &queue.AdminHandler{
		Store:             queue.NewStore(pool),
		Queue:             enqueuer,
		Logger:            logger,
		VisibilityTimeout: envDurationMillis("QUEUE_VISIBILITY_TIMEOUT_MS", 30000),
	}

	auditSvc := audit.Service{
		Store:        queries,
		Enabled:      envBool("AUDIT_ENABLED", true),
		SamplingRate: envFloat("AUDIT_SAMPLING_RATE", 1.0),
	}
	auditRecorder := audit.HTTPRecorder{
		Service: &auditSvc,
		OnError: func(err error) { logger.Error().Err(err).Msg("record audit log") },
	}
	auditHandler := audit.Handler{Store: queries}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	authLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:auth"},
		Config: ratelimit.Config{
			Key:    func(r *http.Request) string { return r.RemoteAddr },
			Window: envDurationMillis("RATE_LIMIT_AUTH_WINDOW_MS", 60000),
			Max:    envInt("RATE_LIMIT_AUTH_MAX", 20),
		},
		OnError: func(err error) { logger.Error().Err(err).Msg("rate limit check") },
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(security.Headers{
		Enable:     envBool("SECURE_HEADERS_ENABLED", true),
		EnableHSTS: envBool("SECURE_HSTS_ENABLED", cfg.CookieSecure),
	}.Middleware)
	r.Use(security.BodyLimit{Max: int64(envInt("SECURE_MAX_BODY_BYTES", 1<<20))}.Middleware)
	if envBool("SECURE_CSRF_ENABLED", false) {
		r.Use(security.CSRF{}.Middleware)
	}
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	pprofEnabled := envBool("OBS_ENABLE_PPROF", true)
	if pprofEnabled {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Get("/plans", planHandler.Plans)
		v.Get("/plans/{slug}", planHandler.PlanDetail)

		v.Route("/auth", func(a chi.Router) {
			a.Group(func(limited chi.Router) {
				limited.Use(authLimiter.Middleware)
				limited.Post("/register", authHandler.Register)
				limited.Post("/login", authHandler.Login)
			})
			a.Post("/refresh", authHandler.Refresh)
			a.Post("/logout", authHandler.Logout)

			a.Group(func(protected chi.Router) {
				protected.Use(authMiddleware.RequireAuth)
				protected.Get("/me", authHandler.Me)
			})
		})

		v.Group(func(authR chi.Router) {
			authR.Use(authMiddleware.RequireAuth)

			authR.Post("/pricing/quote", subscriptionHandler.Quote)
			authR.Get("/users/me", userHandler.Me)

			authR.Route("/subscriptions", func(s chi.Router) {
				s.Get("/", subscriptionHandler.List)
				s.Get("/{id}", subscriptionHandler.Get)
				s.Group(func(g chi.Router) {
					g.Use(idem.Middleware)
					g.Post("/", subscriptionHandler.Purchase)
					g.Post("/{id}/renew", subscriptionHandler.Renew)
				})
			})

			authR.Route("/payments", func(p chi.Router) {
				p.With(idem.Middleware).Post("/intent", paymentHandler.Intent)
				p.Get("/{subscriptionId}/status", paymentHandler.Status)
			})
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireAuth)
			admin.Use(requireRole(queries, "admin"))
			admin.Use(auditRecorder.Middleware(audit.HTTPConfig{}))
			admin.Get("/audit-logs", auditHandler.List)
			admin.Post("/plans", planAdmin.Create)
			admin.Put("/plans/{slug}/durations", planAdmin.UpsertDuration)
			admin.Post("/promocodes", promoHandler.Create)
			admin.Put("/promocodes/{code}", promoHandler.Update)
			admin.Post("/promocodes/preview", promoHandler.Preview)
			admin.Put("/users/{id}/personal-discount", userAdmin.GrantPersonal)
			admin.Put("/users/{id}/purchase-discount", userAdmin.GrantPurchase)
			admin.Post("/webhooks", notifyAdmin.CreateEndpoint)
			admin.Put("/webhooks/{id}", notifyAdmin.UpdateEndpoint)
			admin.Get("/webhooks", notifyAdmin.ListEndpoints)
			admin.Delete("/webhooks/{id}", notifyAdmin.DeleteEndpoint)
			admin.Get("/webhook-deliveries", notifyAdmin.ListDeliveries)
			admin.Post("/webhook-deliveries/{id}/replay", notifyAdmin.ReplayDelivery)
			admin.Get("/queue/dlq", queueAdmin.ListDLQ)
			admin.Post("/queue/dlq/replay", queueAdmin.ReplayDLQ)
			admin.Get("/queue/stats", queueAdmin.Stats)
		})

		v.Post("/webhooks/payment/{provider}", webhookHandler.Handle)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-sigCtx.Done():
		// Fail readiness first so load balancers stop routing new traffic,
		// then give in-flight requests time to finish.
		health.SetReady(false)
		drain := envDurationMillis("SHUTDOWN_DRAIN_MS", 3000)
		logger.Info().Dur("drain", drain).Msg("shutdown signal received, draining")
		time.Sleep(drain)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 10000))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func requireRole(q *db.Queries, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if q == nil {
				common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "role validator not configured", nil)
				return
			}
			userID, ok := common.UserID(r.Context())
			if !ok {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "forbidden", nil)
				return
			}
			uid, err := toUUID(userID)
			if err != nil {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "forbidden", nil)
				return
			}
			user, err := q.GetUserByID(r.Context(), uid)
			if err != nil {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "forbidden", nil)
				return
			}
			if !slices.Contains(user.Roles, role) {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func toUUID(value string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(value)
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
