package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"

	"botflow"
	"botflow/internal/dispatch"
	"botflow/internal/engine"
	"botflow/internal/history"
	"botflow/internal/httpapi"
	"botflow/internal/llm"
	"botflow/internal/runlog"
	"botflow/internal/sandbox"
	"botflow/pkg"
)

func main() {
	botflow.InitConfig(".env")
	gin.SetMode(gin.ReleaseMode)
	cfg := botflow.GetConfig()

	if cfg.Mode == "dev" {
		if err := botflow.DB.AutoMigrate(
			&runlog.Run{},
			&runlog.Entry{},
		); err != nil {
			botflow.Logger.Fatal().Err(err).Msg("Failed to migrate database")
		}
		botflow.Logger.Info().Msg("Database migrated successfully")
		gin.SetMode(gin.DebugMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	router, err := graceful.Default(graceful.WithAddr(cfg.ApiPort))
	pkg.AssertNoError(err)
	defer stop()
	defer router.Close()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	models := llm.NewRegistry()
	models.Register("ollama", llm.NewOllamaProvider(cfg.OllamaHost))

	summarizer, err := llm.NewOllamaProvider(cfg.OllamaHost).ChatModel(botflow.GetEnv("SUMMARY_MODEL", "llama3.1"), 0)
	if err != nil {
		botflow.Logger.Fatal().Err(err).Msg("Failed to build summarizer model")
	}
	historyTTL := time.Duration(cfg.EngineConfig.HistoryTTLMin) * time.Minute
	historyMgr := history.NewManager(history.NewRedisRepository(botflow.Redis, historyTTL), summarizer, botflow.Logger)

	dispatcher, err := dispatch.NewNATSDispatcher(cfg.NatsURL, botflow.Logger)
	if err != nil {
		botflow.Logger.Fatal().Err(err).Msg("Failed to connect side-effect dispatcher")
	}
	defer dispatcher.Close()

	mailWorker, err := dispatch.NewMailWorker(cfg.NatsURL, dispatch.MailConfig{
		Host:     cfg.SmtpConfig.Host,
		Port:     cfg.SmtpConfig.Port,
		Username: cfg.SmtpConfig.Username,
		Password: cfg.SmtpConfig.Password,
		From:     cfg.SmtpConfig.From,
	}, botflow.Logger)
	if err != nil {
		botflow.Logger.Warn().Err(err).Msg("Mail worker disabled, email jobs will stay queued")
	} else {
		if err := mailWorker.Start(); err != nil {
			botflow.Logger.Fatal().Err(err).Msg("Failed to start mail worker")
		}
		defer mailWorker.Close()
		botflow.Logger.Info().Msg("Mail worker started")
	}

	limits := sandbox.HTTPLimits{
		MaxRequests:      cfg.SandboxConfig.MaxRequests,
		MaxRequestBytes:  int64(cfg.SandboxConfig.MaxRequestBytes),
		MaxResponseBytes: int64(cfg.SandboxConfig.MaxResponseBytes),
		MinTimeout:       time.Duration(cfg.SandboxConfig.MinTimeoutS) * time.Second,
		MaxTimeout:       time.Duration(cfg.SandboxConfig.MaxTimeoutS) * time.Second,
	}

	eng := engine.New(engine.Config{
		Workers:        cfg.EngineConfig.Workers,
		MaxAttempts:    cfg.EngineConfig.MaxAttempts,
		NodeTimeout:    time.Duration(cfg.EngineConfig.NodeTimeoutS) * time.Second,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}, engine.Options{
		Models:     models,
		History:    historyMgr,
		Dispatcher: dispatcher,
		HTTPLimits: &limits,
		Logger:     botflow.Logger,
	})

	runs := runlog.NewRepository(botflow.DB, botflow.Logger)
	httpapi.PipelineHandler(router, eng, runs, botflow.Logger)

	botflow.Logger.Debug().Msgf("Starting pipeline API on port %s", cfg.ApiPort)
	if err = router.RunWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		botflow.Logger.Fatal().Msg(err.Error())
		panic(err)
	}
}
