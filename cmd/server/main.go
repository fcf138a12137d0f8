package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/visageapp/visage/internal/ai"
	"github.com/visageapp/visage/internal/chat"
	"github.com/visageapp/visage/internal/config"
	"github.com/visageapp/visage/internal/db"
	"github.com/visageapp/visage/internal/httpapi"
	"github.com/visageapp/visage/internal/realtime"
	"github.com/visageapp/visage/internal/storage"
	"github.com/visageapp/visage/internal/store/rabbitmq"
	"github.com/visageapp/visage/internal/store/redisstore"
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Visage chat server: persistence, AI responder, realtime gateway",
	RunE:  runServer,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute server command")
	}
}

func buildProvider(cfg config.Config) (ai.Provider, error) {
	reg := ai.NewRegistry()
	reg.Register("openai", ai.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel))
	reg.Register("ollama", ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel))
	reg.Register("openrouter", ai.NewOpenRouterProvider(
		cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, cfg.OpenRouterModel,
		cfg.OpenRouterSiteURL, cfg.OpenRouterAppName))
	return reg.Get(strings.ToLower(cfg.AIProvider))
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	repo := chat.NewRepo(gdb)

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	cache := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer cache.Close()
	if err := cache.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("[server] redis unreachable; listing cache disabled")
		cache = nil
	}

	publisher, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		return err
	}
	defer publisher.Close()

	uploader, err := storage.NewUploader(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("[server] object storage unavailable; uploads disabled")
		uploader = nil
	}

	var sink chat.EventSink = publisher
	var listCache chat.ListCache
	if cache != nil {
		listCache = cache
	}
	svc := chat.NewService(repo, provider, sink, listCache,
		cfg.ContextWindow, cfg.SystemDirective, cfg.EmotionTagging)

	hub := realtime.NewHub()
	gw := realtime.NewGateway(hub)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		return err
	}
	defer consumer.Close()
	go func() {
		err := consumer.Run(ctx, func(ev rabbitmq.ChangeEvent) {
			hub.Broadcast(ev.Kind, ev.Message)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("[server] event consumer stopped")
		}
	}()

	router := httpapi.NewRouter(cfg, svc, cache, uploader, gw)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("[server] shutdown")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("provider", cfg.AIProvider).Msg("[server] listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
