package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"
	"github.com/tendant/simple-mfa/pkg/audit"
	"github.com/tendant/simple-mfa/pkg/authmethod"
	"github.com/tendant/simple-mfa/pkg/config"
	"github.com/tendant/simple-mfa/pkg/credential"
	"github.com/tendant/simple-mfa/pkg/ethsig"
	"github.com/tendant/simple-mfa/pkg/events"
	"github.com/tendant/simple-mfa/pkg/metrics"
	"github.com/tendant/simple-mfa/pkg/mfa"
	mfaapi "github.com/tendant/simple-mfa/pkg/mfa/api"
	"github.com/tendant/simple-mfa/pkg/notification"
	"github.com/tendant/simple-mfa/pkg/ratelimit"
	"github.com/tendant/simple-mfa/pkg/userdir"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	}))
	slog.SetDefault(logger)

	config.LoadEnvFile(".env")
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to read configuration", "error", err)
		os.Exit(1)
	}

	challengeTTL := mustDuration("MFA_CHALLENGE_TTL", cfg.Mfa.ChallengeTTL)
	handlerTimeout := mustDuration("MFA_HANDLER_TIMEOUT", cfg.Mfa.HandlerTimeout)
	sweepInterval := mustDuration("MFA_SWEEP_INTERVAL", cfg.Mfa.SweepInterval)
	codeTTL := mustDuration("MFA_CODE_TTL", cfg.Mfa.CodeTTL)
	credentialExpiry := mustDuration("MFA_CREDENTIAL_EXPIRY", cfg.JWT.CredentialExpiry)
	validateWindow := mustDuration("MFA_VALIDATE_WINDOW", cfg.RateLimit.ValidateWindow)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if isPostgres(cfg.Mfa.Persistence) || isPostgres(cfg.Mfa.ProfileStore) {
		dbConfig := cfg.Database.ToDbConfig()
		pool, err = dbutils.NewDbPool(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed creating dbpool", "db", dbConfig.Database, "host", dbConfig.Host, "port", dbConfig.Port, "user", dbConfig.User)
			os.Exit(1)
		}
		defer pool.Close()
	}

	var redisClient *redis.Client
	if cfg.Mfa.Persistence == "redis" || cfg.Redis.EventsEnabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("Failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	// Challenge, nonce and passcode storage
	repoConfig := mfa.RepositoryConfig{KeyPrefix: cfg.Redis.KeyPrefix}
	storeConfig := userdir.StoreConfig{DataDir: cfg.Mfa.DataDir}
	if pool != nil {
		repoConfig.DB = pool
		storeConfig.DB = pool
	}
	if redisClient != nil {
		repoConfig.Redis = redisClient
	}
	repo, err := mfa.NewRepository(cfg.Mfa.Persistence, repoConfig)
	if err != nil {
		slog.Error("Failed to create mfa repository", "error", err)
		os.Exit(1)
	}
	if pg, ok := repo.(*mfa.PostgresRepository); ok {
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("Failed to migrate mfa tables", "error", err)
			os.Exit(1)
		}
	}

	// User directory
	profileStore, err := userdir.NewProfileStore(cfg.Mfa.ProfileStore, storeConfig)
	if err != nil {
		slog.Error("Failed to create profile store", "error", err)
		os.Exit(1)
	}
	if pg, ok := profileStore.(*userdir.PostgresStore); ok {
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("Failed to migrate profile tables", "error", err)
			os.Exit(1)
		}
	}
	directory := userdir.NewDirectory(profileStore)

	var publisher message.Publisher
	if cfg.Redis.EventsEnabled {
		publisher, err = redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redisClient},
			watermill.NewStdLogger(false, false),
		)
		if err != nil {
			slog.Error("Failed to create redis stream publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
	}

	// Notifications
	notifyOpts := []notification.NotificationManagerOption{notification.WithCodeExpiry(codeTTL)}
	if cfg.Email.Enabled {
		notifyOpts = append(notifyOpts, notification.WithSMTP(notification.SMTPConfig{
			Host:     cfg.Email.Host,
			Port:     int(cfg.Email.Port),
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			TLS:      cfg.Email.TLS,
		}))
	}
	switch {
	case publisher != nil:
		notifyOpts = append(notifyOpts, notification.WithSMSPublisher(publisher))
	case cfg.Twilio.Enabled():
		notifyOpts = append(notifyOpts, notification.WithTwilio(notification.TwilioConfig{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			From:       cfg.Twilio.From,
		}))
	default:
		slog.Warn("No message bus or twilio account configured, phone codes cannot be delivered")
	}
	notificationManager, err := notification.NewNotificationManager(directory, notifyOpts...)
	if err != nil {
		slog.Error("Failed initialize notification manager", "err", err)
		os.Exit(1)
	}

	// OpenID Connect providers confirming the oauth step
	oidcProviders, err := cfg.OAuth.ProviderList()
	if err != nil {
		slog.Error("Invalid oidc provider configuration", "error", err)
		os.Exit(1)
	}
	var idTokens authmethod.IDTokenVerifier
	if len(oidcProviders) > 0 {
		var providers []authmethod.OIDCProvider
		for _, p := range oidcProviders {
			keyfunc, err := authmethod.NewJWKSKeyfunc(ctx, p.JWKSURL)
			if err != nil {
				slog.Error("Failed to set up provider keys", "provider", p.Name, "error", err)
				os.Exit(1)
			}
			providers = append(providers, authmethod.OIDCProvider{
				Name:     p.Name,
				Issuer:   p.Issuer,
				ClientID: p.ClientID,
				Keyfunc:  keyfunc,
			})
		}
		idTokens = authmethod.NewOIDCVerifier(providers...)
	} else {
		slog.Warn("No oidc providers configured, oauth confirmation is disabled")
	}

	// Methods
	registry := mfa.NewMethodRegistry()
	err = authmethod.RegisterDefaults(registry, authmethod.Deps{
		Directory:       directory,
		Store:           repo,
		Gateway:         notificationManager,
		Verifier:        ethsig.NewVerifier(),
		IDTokens:        idTokens,
		Enabled:         cfg.Mfa.Methods(),
		PasscodeOptions: []authmethod.PasscodeOption{authmethod.WithCodeTTL(codeTTL)},
	})
	if err != nil {
		slog.Error("Failed to register mfa methods", "error", err)
		os.Exit(1)
	}

	issuer := credential.NewJwtIssuer(cfg.JWT.CredentialSecret,
		credential.WithIssuer(cfg.JWT.Issuer),
		credential.WithExpiry(credentialExpiry),
	)

	registerer := prometheus.NewRegistry()
	registerer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var limiter mfa.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.Redis.KeyPrefix+"rl:", cfg.RateLimit.ValidateAttempts, validateWindow)
	} else {
		memLimiter := ratelimit.NewRateLimiter(cfg.RateLimit.ValidateAttempts,
			float64(cfg.RateLimit.ValidateAttempts)/validateWindow.Seconds(), time.Hour)
		defer memLimiter.Close()
		limiter = memLimiter
	}

	serviceOpts := []mfa.Option{
		mfa.WithChallengeTTL(challengeTTL),
		mfa.WithHandlerTimeout(handlerTimeout),
		mfa.WithMetrics(metrics.NewCollector(registerer, metrics.DefaultNamespace)),
		mfa.WithLimiter(limiter),
	}
	if publisher != nil {
		serviceOpts = append(serviceOpts, mfa.WithEvents(events.NewWatermillPublisher(publisher)))
	}
	policies, err := cfg.Mfa.Policies()
	if err != nil {
		slog.Error("Invalid action policy", "error", err)
		os.Exit(1)
	}
	for action, methods := range policies {
		serviceOpts = append(serviceOpts, mfa.WithActionPolicy(action, methods...))
	}

	mfaService := mfa.NewMfaService(registry, directory, repo, issuer, serviceOpts...)
	mfaService.StartSweeper(ctx, sweepInterval)

	// HTTP
	httpLimiter := ratelimit.NewMiddleware(&ratelimit.Config{
		PerIPEnabled:    cfg.RateLimit.PerIPEnabled,
		PerIPCapacity:   cfg.RateLimit.PerIPPerMinute,
		PerIPRefillRate: float64(cfg.RateLimit.PerIPPerMinute) / 60.0,
		BucketTTL:       time.Hour,
		IncludeHeaders:  cfg.RateLimit.IncludeHeaders,
	})
	defer httpLimiter.Close()

	tokenAuth := jwtauth.New("HS256", []byte(cfg.JWT.Secret), nil)

	var auditMiddleware *audit.Middleware
	if publisher != nil {
		auditMiddleware, err = audit.NewMiddleware(audit.Config{Publisher: publisher})
		if err != nil {
			slog.Error("Failed to create audit middleware", "error", err)
			os.Exit(1)
		}
	}

	server := app.DefaultApp()
	app.RegisterHealthzRoutes(server.R)
	server.R.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
	server.R.Route("/api/v1/mfa", func(r chi.Router) {
		r.Use(jwtauth.Verifier(tokenAuth))
		if auditMiddleware != nil {
			r.Use(auditMiddleware.Handler)
		}
		r.Use(httpLimiter.Handler)
		r.Use(jwtauth.Authenticator(tokenAuth))
		mfaapi.NewHandle(mfaService).Routes(r)
	})

	slog.Info("MFA service ready",
		"persistence", cfg.Mfa.Persistence,
		"profile_store", cfg.Mfa.ProfileStore,
		"methods", registeredMethods(registry),
		"events", publisher != nil)
	server.Run()
}

func isPostgres(persistenceType string) bool {
	return persistenceType == "postgres" || persistenceType == "postgresql"
}

func mustDuration(name, value string) time.Duration {
	d, err := config.ParseDuration(value)
	if err != nil {
		slog.Error("Invalid duration", "name", name, "value", value, "error", err)
		os.Exit(1)
	}
	return d
}

func registeredMethods(registry *mfa.MethodRegistry) []mfa.MethodID {
	var ids []mfa.MethodID
	for _, h := range registry.All() {
		ids = append(ids, h.MethodID())
	}
	return ids
}
