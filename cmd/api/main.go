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

	"github.com/joho/godotenv"

	"github.com/zhouzirui/crm-chat/backend/internal/config"
	"github.com/zhouzirui/crm-chat/backend/internal/handler"
	agentHandler "github.com/zhouzirui/crm-chat/backend/internal/handler/agent"
	"github.com/zhouzirui/crm-chat/backend/internal/service/agent"
	"github.com/zhouzirui/crm-chat/backend/internal/service/chat"
	"github.com/zhouzirui/crm-chat/backend/internal/service/media"
	"github.com/zhouzirui/crm-chat/backend/internal/service/request"
	"github.com/zhouzirui/crm-chat/backend/internal/service/transport"
	"github.com/zhouzirui/crm-chat/backend/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	kv, closeStore, err := storage.Open(ctx, cfg.Storage.Settings())
	if err != nil {
		log.Fatalf("failed to open %s storage: %v", cfg.Storage.Driver, err)
	}
	defer closeStore()

	chatService := chat.NewService(kv, chat.WithKey(cfg.Storage.Key))
	restored := chatService.Load(ctx)
	log.Printf("conversation restored with %d messages (driver=%s)", len(restored), cfg.Storage.Driver)

	// Initialize local agent
	var replier agentHandler.Replier
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err == nil {
			var agentService *agent.Service
			agentService, err = agent.NewService(ctx, chatModel, cfg.AI.SystemPrompt)
			if err == nil {
				replier = agentService
			}
		}
		if err != nil {
			log.Printf("warning: failed to initialize agent: %v", err)
			log.Println("continuing without local agent - 请检查 Ark 模型相关环境变量")
		} else {
			log.Println("local agent initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过本地 agent 初始化")
	}

	if cfg.Webhook.URL == "" {
		log.Fatal("CHAT_WEBHOOK_URL is not set and no local agent is configured")
	}
	if replier == nil && cfg.Webhook.URL == cfg.Server.LocalURL()+"/api/agent/webhook" {
		log.Fatal("CHAT_WEBHOOK_URL points at the local agent, which failed to start")
	}

	client := request.New(&http.Client{}, request.Options{
		Timeout: cfg.Webhook.Timeout,
		Retries: request.RetryPolicy{Count: cfg.Webhook.RetryCount, Delay: cfg.Webhook.RetryDelay},
	})
	transportService, err := transport.New(client, media.NewEncoder(cfg.Webhook.MaxUploadBytes), transport.Config{
		Endpoint:      cfg.Webhook.URL,
		UploadTimeout: cfg.Webhook.UploadTimeout,
	})
	if err != nil {
		log.Fatalf("failed to initialize transport: %v", err)
	}
	log.Printf("messages will be delivered to %s", cfg.Webhook.URL)

	router := handler.NewRouter(handler.Options{
		Chat:           chatService,
		Sender:         transportService,
		Agent:          replier,
		MaxUploadBytes: cfg.Webhook.MaxUploadBytes,
	})

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("CRM chat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
