package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Anson-y-chang/stream.io/config"
	"github.com/Anson-y-chang/stream.io/constant"
	jobHandler "github.com/Anson-y-chang/stream.io/handler"
	"github.com/Anson-y-chang/stream.io/pkg/rabbitmq"
	"github.com/Anson-y-chang/stream.io/repository"
	"github.com/Anson-y-chang/stream.io/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	repo := repository.NewRepo(cfg.DB)
	if err := repo.Migrate(); err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("failed to migrate job store")
	}

	engine := service.NewFFmpegEngine(cfg)
	mirror := service.NewMirror(cfg.Storage, cfg.MinIOBucket)
	orchestrator := service.NewOrchestrator(repo, engine, service.NewManifestWriter(), mirror, cfg)
	cleanup := service.NewCleanup(repo, mirror, cfg)

	// Queue intake is optional; the HTTP submit endpoint is always there.
	if cfg.Queue != nil && cfg.Queue.Host != "" {
		conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
		} else {
			consumer := rabbitmq.NewConsumer(conn, cfg.Queue, cfg.Server.Workers, jobHandler.JobHandler)
			deps := jobHandler.ServiceDependencies{
				Repo:         repo,
				Orchestrator: orchestrator,
			}
			go func() {
				if err := consumer.Consume(ctx, deps); err != nil {
					zerolog.Ctx(ctx).Error().Err(err).Msg("Transcode consumer error")
				}
			}()
		}
	}

	r := NewRouter(repo, orchestrator, cleanup, cfg)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	if err := handler.Shutdown(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Msg("waiting for in-flight jobs")
	orchestrator.Wait()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

// NewRouter wires the HTTP surface. Split out of RunHttp so handler tests
// can drive the exact production routing.
func NewRouter(repo repository.JobRepository, orchestrator *service.Orchestrator, cleanup *service.Cleanup, cfg *config.Config) *gin.Engine {
	r := gin.Default()
	addHealth(r)

	h := jobHandler.NewHandler(repo, orchestrator, cleanup, cfg.Transcode.DataDir)
	h.Register(r)

	return r
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
