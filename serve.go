package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"promptforge-server/modules/common/config"
	"promptforge-server/modules/common/gemini"
	"promptforge-server/modules/common/metrics"
	redisutil "promptforge-server/modules/common/redis"
	"promptforge-server/modules/common/utils"
	"promptforge-server/modules/promptforge"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/WebSocket server (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	// 환경변수 로드 (API 키 없으면 서버를 띄우지 않음)
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("❌ Failed to load config: %v", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := gemini.NewClient(ctx, cfg)
	if err != nil {
		log.Printf("❌ Failed to create Gemini client: %v", err)
		return err
	}

	// 활성 요청 marker: Redis 설정 시 인스턴스 간 공유, 아니면 in-memory
	var marker promptforge.ActiveMarker
	if cfg.RedisEnabled() {
		rdb, err := redisutil.Connect(cfg)
		if err != nil {
			log.Printf("❌ Failed to connect to Redis: %v", err)
			return err
		}
		defer rdb.Close()
		marker = redisutil.NewActiveMarker(rdb, cfg.ActiveMarkerTTL)
	}

	service := promptforge.NewService(client, promptforge.ParseOptions{StripFences: cfg.StripFences})
	preview := previewFunc(cfg)
	sessions := promptforge.NewSessionManager(func(sessionId string) *promptforge.Controller {
		return promptforge.NewController(sessionId, service, marker, preview)
	})

	metrics.Register()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(promptforge.NewHandler(service, sessions)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// 정리 루틴 시작
	g.Go(func() error {
		return sessions.RunCleanupRoutine(gctx)
	})

	g.Go(func() error {
		log.Printf("🚀 PromptForge Server starting on port %s", cfg.Port)
		log.Printf("📡 WebSocket endpoint: ws://localhost:%s/ws?session=ID", cfg.Port)
		log.Printf("🎨 Analyze: POST http://localhost:%s/api/analyze", cfg.Port)
		log.Printf("❤️  Health check: http://localhost:%s/health", cfg.Port)
		log.Printf("📊 Metrics: http://localhost:%s/metrics", cfg.Port)
		log.Printf("🧹 Admin cleanup: http://localhost:%s/admin/cleanup", cfg.Port)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Printf("🛑 Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("❌ Server stopped with error: %v", err)
		return err
	}
	log.Printf("👋 Server stopped")
	return nil
}

// previewFunc - 업로드 WebP 썸네일. 실패는 로그만 남기고 무시
func previewFunc(cfg *config.Config) promptforge.PreviewFunc {
	return func(data []byte, mediaType string) string {
		preview, err := utils.BuildPreview(data, mediaType, cfg.PreviewMaxSize, cfg.PreviewQuality)
		if err != nil {
			log.Printf("⚠️  Preview generation failed (%s): %v", mediaType, err)
			return ""
		}
		return preview
	}
}
