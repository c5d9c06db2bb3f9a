package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	goredis "github.com/redis/go-redis/v9"

	"github.com/chative-relay/server/internal/agent/channel"
	"github.com/chative-relay/server/internal/agent/gate"
	"github.com/chative-relay/server/internal/agent/graph"
	"github.com/chative-relay/server/internal/agent/humanize"
	"github.com/chative-relay/server/internal/agent/identity"
	"github.com/chative-relay/server/internal/agent/media"
	"github.com/chative-relay/server/internal/agent/model"
	"github.com/chative-relay/server/internal/agent/pipeline"
	"github.com/chative-relay/server/internal/agent/repo"
	"github.com/chative-relay/server/internal/agent/session"
	"github.com/chative-relay/server/internal/core"
	"github.com/chative-relay/server/internal/server"
	"github.com/chative-relay/server/pkg/awsx"
	logx "github.com/chative-relay/server/pkg/logger"
	pkgmongo "github.com/chative-relay/server/pkg/mongo"
	pkgredis "github.com/chative-relay/server/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

// AppConfig defines all configurable parameters of the relay,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Env               core.Environment `envconfig:"APP_ENV" default:"development"`
	HTTPAddr          string           `envconfig:"HTTP_ADDR" default:":8080"`
	RequestTimeout    time.Duration    `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	EnforceSignatures bool             `envconfig:"ENFORCE_SIGNATURES" default:"false"`

	// StoreDriver is "memory" or "mongo".
	StoreDriver string `envconfig:"STORE_DRIVER" default:"memory"`

	// Infrastructure
	Redis pkgredis.Config
	Mongo pkgmongo.Config
	AWS   awsx.Config

	// LLM provider
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY"`
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Pipeline configs
	LLM       model.LLMConfig
	Media     model.MediaConfig
	Gate      model.GateConfig
	Session   model.SessionConfig
	Identity  model.IdentityConfig
	Twilio    model.TwilioConfig
	Messenger model.MessengerConfig
}

// enforceSignatures is always on in production.
func (c AppConfig) enforceSignatures() bool {
	return c.EnforceSignatures || c.Env.IsProduction()
}

func main() {
	// Load .env file
	if err := godotenv.Load(".env"); err != nil {
		logx.Warn().Err(err).Msg("Could not load .env file")
	}

	// Load structured config from env
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logx.Fatal().Err(err).Msg("Failed to process environment config")
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Env})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logx.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("Failed to initialise store")
	}
	defer closeStore()

	var rdb *goredis.Client
	if cfg.Gate.Driver == "redis" || cfg.Session.LockDriver == "redis" {
		rdb, err = cfg.Redis.New(ctx)
		if err != nil {
			logx.Fatal().Err(err).Msg("Failed to initialise Redis client")
		}
		defer rdb.Close()
		logx.Info().Msg("Connected to Redis successfully")
	}

	var g gate.Gate
	if cfg.Gate.Driver == "redis" {
		g = gate.NewRedis(rdb, cfg.Gate)
	} else {
		mem := gate.NewMemory(cfg.Gate)
		go mem.Run(ctx)
		g = mem
	}

	var locker session.Locker = session.NewLocalLocker()
	if cfg.Session.LockDriver == "redis" {
		locker = session.NewRedisLocker(rdb, cfg.Session.LockTTL, cfg.Session.LockWait)
	}

	generator, err := graph.NewGenerator(ctx, graph.Config{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		LLM:     cfg.LLM,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build generation graph")
	}

	enricher, err := buildEnricher(ctx, cfg)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to initialise media enrichment")
	}

	proc := pipeline.New(pipeline.Deps{
		Gate:      g,
		Identity:  identity.NewResolver(store, cfg.Identity),
		Enricher:  enricher,
		Generator: generator,
		Humanizer: humanize.New(),
		Sessions:  session.NewManager(store, cfg.Session, session.WithLocker(locker)),
	})

	enforce := cfg.enforceSignatures()
	twilio := channel.NewTwilio(cfg.Twilio, enforce)
	messenger := channel.NewMessenger(cfg.Messenger, enforce)
	if !twilio.Configured() {
		logx.Warn().Msg("Twilio credentials are not set; replies will be logged only")
	}
	if !messenger.Configured() {
		logx.Warn().Msg("MESSENGER_PAGE_ACCESS_TOKEN is not set; replies will be logged only")
	}

	router := server.NewRouter(server.Config{
		Environment:    cfg.Env,
		RequestTimeout: cfg.RequestTimeout,
	}, proc, twilio, messenger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logx.Info().
			Str("addr", cfg.HTTPAddr).
			Str("env", cfg.Env.String()).
			Str("store", cfg.StoreDriver).
			Str("gate", cfg.Gate.Driver).
			Bool("enforce_signatures", enforce).
			Bool("generation_configured", generator.Configured()).
			Msg("Relay server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logx.Info().Msg("Relay server shutting down")
	case err := <-errCh:
		logx.Error().Err(err).Msg("Relay server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

func buildStore(ctx context.Context, cfg AppConfig) (model.Store, func(), error) {
	if cfg.StoreDriver != "mongo" {
		logx.Warn().Msg("Using in-memory store; records are lost on restart")
		return repo.NewMemory(), func() {}, nil
	}

	client, db, err := cfg.Mongo.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logx.Warn().Err(err).Msg("Mongo disconnect")
		}
	}

	store := repo.NewMongoStore(db)
	if err := store.EnsureIndexes(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	logx.Info().Str("database", cfg.Mongo.Database).Msg("Connected to MongoDB successfully")
	return store, closeFn, nil
}

// buildEnricher always downloads; vision and transcription need AWS
// credentials, and transcription also a staging bucket.
func buildEnricher(ctx context.Context, cfg AppConfig) (*media.Enricher, error) {
	downloader := media.NewHTTPDownloader(cfg.Media.MaxBytes(), cfg.Media.DownloadTimeout)

	if !cfg.AWS.Configured() {
		logx.Warn().Msg("AWS credentials are not set; image analysis and transcription are disabled")
		return media.NewEnricher(downloader, nil, nil, cfg.Media.MaxBytes()), nil
	}

	awsCfg, err := cfg.AWS.Load(ctx)
	if err != nil {
		return nil, err
	}
	vision := media.NewRekognitionVision(rekognition.NewFromConfig(awsCfg))

	var transcriber media.Transcriber
	if cfg.Media.Bucket != "" {
		transcriber = media.NewJobTranscriber(s3.NewFromConfig(awsCfg), transcribe.NewFromConfig(awsCfg), cfg.Media)
	} else {
		logx.Warn().Msg("MEDIA_BUCKET is not set; audio transcription is disabled")
	}
	return media.NewEnricher(downloader, vision, transcriber, cfg.Media.MaxBytes()), nil
}
