package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"phone-otp-auth/backend/internal/account"
	accountrepo "phone-otp-auth/backend/internal/account/repository"
	"phone-otp-auth/backend/internal/config"
	"phone-otp-auth/backend/internal/db"
	"phone-otp-auth/backend/internal/devotp"
	healthhandler "phone-otp-auth/backend/internal/health/handler"
	identityhandler "phone-otp-auth/backend/internal/identity/handler"
	identityservice "phone-otp-auth/backend/internal/identity/service"
	"phone-otp-auth/backend/internal/otp"
	otprepo "phone-otp-auth/backend/internal/otp/repository"
	"phone-otp-auth/backend/internal/otp/sms"
	"phone-otp-auth/backend/internal/phone"
	"phone-otp-auth/backend/internal/policy/engine"
	"phone-otp-auth/backend/internal/ratelimit"
	"phone-otp-auth/backend/internal/security"
	"phone-otp-auth/backend/internal/server"
	sessionrepo "phone-otp-auth/backend/internal/session/repository"
	sessionservice "phone-otp-auth/backend/internal/session/service"
	"phone-otp-auth/backend/internal/sweeper"
	"phone-otp-auth/backend/internal/telemetry"
	telemetryotel "phone-otp-auth/backend/internal/telemetry/otel"
	"phone-otp-auth/backend/internal/telemetry/producer"
)

const (
	otpHashPurpose = "phoneauth/otp-code-hash"
	limiterMaxAge  = 24 * time.Hour
	serviceName    = "phoneauth"
)

type app struct {
	router  *gin.Engine
	sweeper *sweeper.Sweeper
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// stores groups the backends picked from DATABASE_URL and REDIS_URL.
type stores struct {
	challenges otprepo.Repository
	limiter    ratelimit.Limiter
	accounts   accountrepo.Repository
	profiles   accountrepo.ProfileRepository
	staging    accountrepo.StagingRepository
	refresh    sessionrepo.Repository
	checks     []healthhandler.Check
	sweeps     []sweeper.Task
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: serviceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	a.closers = append(a.closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	})

	emitters := []telemetry.EventEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AuthEventsKafkaTopic); kp != nil {
		emitters = append(emitters, kp)
		a.closers = append(a.closers, func() { _ = kp.Close() })
		logger.Info("publishing auth events to kafka", zap.String("topic", cfg.AuthEventsKafkaTopic))
	}
	events := telemetry.Multi(emitters...)

	st, err := openStores(ctx, cfg, a, logger)
	if err != nil {
		return nil, err
	}

	tokens, err := tokenProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	pepper, err := otpPepper(cfg, logger)
	if err != nil {
		return nil, err
	}

	blocked, _ := cfg.BlockedCountryCodes()
	var policy *engine.OPAEvaluator
	if cfg.OTPPolicyFile != "" {
		policy, err = engine.NewOPAEvaluatorFromFile(ctx, cfg.OTPPolicyFile, blocked)
	} else {
		policy, err = engine.NewOPAEvaluator(ctx, engine.DefaultPolicy, blocked)
	}
	if err != nil {
		return nil, fmt.Errorf("issuance policy: %w", err)
	}
	st.checks = append(st.checks, healthhandler.PolicyCheck("policy", policy))

	store := otp.NewStore(st.challenges, otp.NewHasher(pepper), otp.Options{
		Length:      cfg.OTPLength,
		TTL:         cfg.OTPTTL(),
		MaxAttempts: cfg.OTPMaxAttempts,
	})

	var (
		sender otp.Sender
		devOTP devotp.Store
	)
	if cfg.OTPReturnToClient {
		ds := devotp.NewMemoryStore()
		devOTP = ds
		sender = devotp.NewSender(ds, store.TTL())
		logger.Warn("dev OTP mode enabled: codes are not sent and are readable at GET /dev/otp")
	} else {
		if cfg.SMSLocalAPIKey == "" {
			logger.Warn("SMS_LOCAL_API_KEY is not set; OTP delivery will fail")
		}
		sender = sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
	}

	issuer := otp.NewIssuer(store, st.limiter, sender, policy, otp.IssuerConfig{
		PhoneRule:   cfg.IssueRateRule(),
		AddressRule: cfg.AddrRateRule(),
		SendTimeout: cfg.SendTimeout(),
	}, logger.Named("otp"))
	resolver := account.NewResolver(st.accounts, st.profiles, st.staging, store.TTL(), logger.Named("account"))
	tokenSvc := sessionservice.NewTokenService(st.refresh, tokens, logger.Named("session"))
	normalizer := phone.Normalizer{Strict: cfg.PhoneStrictValidation}
	auth := identityservice.NewAuthService(normalizer, store, issuer, resolver, tokenSvc, events, logger.Named("auth"))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	a.router = server.NewRouter(server.Deps{
		Auth:     identityhandler.NewAuthServer(auth, normalizer, devOTP, logger.Named("http")),
		Tokens:   tokenSvc,
		Health:   healthhandler.NewServer(st.checks...),
		Registry: registry,
		Logger:   logger.Named("http"),
	})

	tasks := append(st.sweeps,
		sweeper.Task{Name: "otp_challenges", Run: store.Sweep},
		sweeper.Task{Name: "refresh_tokens", Run: tokenSvc.Sweep},
	)
	a.sweeper = sweeper.New(cfg.SweepEvery(), logger.Named("sweeper"), tasks...)
	return a, nil
}

func openStores(ctx context.Context, cfg *config.Config, a *app, logger *zap.Logger) (*stores, error) {
	st := &stores{}

	if cfg.DatabaseURL != "" {
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		st.accounts = accountrepo.NewPostgresRepository(conn)
		st.profiles = accountrepo.NewPostgresProfileRepository(conn)
		st.refresh = sessionrepo.NewPostgresRepository(conn)
		st.checks = append(st.checks, healthhandler.PingerCheck("postgres", conn))
		logger.Info("using postgres for accounts and refresh tokens")
	} else {
		st.accounts = accountrepo.NewMemoryRepository()
		st.profiles = accountrepo.NewMemoryProfileRepository()
		st.refresh = sessionrepo.NewMemoryRepository()
		logger.Warn("DATABASE_URL is not set; accounts and refresh tokens are kept in memory")
	}

	if cfg.RedisURL != "" {
		client, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		st.challenges = otprepo.NewRedisRepository(client, "")
		st.limiter = ratelimit.NewRedisLimiter(client, "phoneauth:rl:")
		st.staging = accountrepo.NewRedisStagingRepository(client, "")
		st.checks = append(st.checks, healthhandler.Check{Name: "redis", Run: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
		logger.Info("using redis for challenges, rate limits and staged registrations")
		return st, nil
	}

	challenges := otprepo.NewMemoryRepository()
	limiter := ratelimit.NewMemoryLimiter()
	staging := accountrepo.NewMemoryStagingRepository()
	st.challenges = challenges
	st.limiter = limiter
	st.staging = staging
	st.sweeps = append(st.sweeps,
		sweeper.Task{Name: "staged_registrations", Run: func(ctx context.Context) (int, error) {
			return staging.DeleteExpired(ctx, time.Now().UTC())
		}},
		sweeper.Task{Name: "rate_limit_windows", Run: func(context.Context) (int, error) {
			return limiter.Sweep(limiterMaxAge), nil
		}},
	)
	logger.Warn("REDIS_URL is not set; challenges and rate limits are per process")
	return st, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func tokenProvider(cfg *config.Config, logger *zap.Logger) (*security.TokenProvider, error) {
	if cfg.JWTPrivateKey == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("JWT keys are required in production")
		}
		signer, pub, err := security.GenerateEphemeralKey()
		if err != nil {
			return nil, fmt.Errorf("ephemeral key: %w", err)
		}
		logger.Warn("JWT keys not configured; using an ephemeral ES256 key, tokens will not survive a restart")
		return security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL()), nil
	}
	signer, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("JWT_PRIVATE_KEY: %w", err)
	}
	pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("JWT_PUBLIC_KEY: %w", err)
	}
	logger.Info("JWT signing configured", zap.String("alg", security.KeyAlg(pub)))
	return security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL()), nil
}

func otpPepper(cfg *config.Config, logger *zap.Logger) ([]byte, error) {
	secret := []byte(cfg.OTPHashSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		logger.Warn("OTP_HASH_SECRET not set; using a random per-process secret")
	}
	return security.DeriveKey(secret, otpHashPurpose)
}
