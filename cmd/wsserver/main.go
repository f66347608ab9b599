package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chatkool/chat-app/internal/ai"
	"github.com/chatkool/chat-app/internal/api"
	"github.com/chatkool/chat-app/internal/chat"
	"github.com/chatkool/chat-app/internal/config"
	"github.com/chatkool/chat-app/internal/handoff"
	"github.com/chatkool/chat-app/internal/logging"
	"github.com/chatkool/chat-app/internal/matching"
	"github.com/chatkool/chat-app/internal/messaging"
	"github.com/chatkool/chat-app/internal/metrics"
	"github.com/chatkool/chat-app/internal/ratelimit"
	"github.com/chatkool/chat-app/internal/registry"
	"github.com/chatkool/chat-app/internal/relay"
	"github.com/chatkool/chat-app/internal/storage"
	"github.com/chatkool/chat-app/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.L().Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, ServiceName: "chatkool"})
	log := logging.L()

	// --- Storage ---
	var (
		redisClient *redis.Client
		repo        storage.Repository
		cleanup     []func() error
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	switch strings.ToLower(cfg.StoreBackend) {
	case config.BackendRedis:
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		r := storage.NewRedis(redisClient)
		if err := r.Ping(ctx); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("connect to redis")
		}
		repo = r
		cleanup = append(cleanup, redisClient.Close)
	case config.BackendPostgres:
		pg, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("open postgres")
		}
		repo = pg
		cleanup = append(cleanup, pg.Close)
	default:
		repo = storage.NewMemory()
	}
	cancel()

	// --- Rate limiting ---
	var limiter relay.Limiter
	switch {
	case cfg.RateLimitMessages <= 0:
	case redisClient != nil:
		limiter = ratelimit.NewLimiter(redisClient, logging.Component("ratelimit"))
	default:
		local := ratelimit.NewLocal()
		go sweep(local, cfg.RateLimitWindow)
		limiter = local
	}

	// --- NATS ---
	var publisher relay.Publisher
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsClient, err := messaging.NewNATSClient(natsConfig, logging.Component("nats"))
		if err != nil {
			log.Fatal().Err(err).Msg("connect to nats")
		}
		publisher = natsClient
		cleanup = append(cleanup, func() error { natsClient.Close(); return nil })
	}

	// --- AI chain ---
	var backends []ai.Backend
	if cfg.AI.GeminiAPIKey != "" {
		gemini, err := ai.NewGemini(context.Background(), ai.GeminiConfig{APIKey: cfg.AI.GeminiAPIKey, Model: cfg.AI.GeminiModel})
		if err != nil {
			log.Fatal().Err(err).Msg("gemini client")
		}
		backends = append(backends, ai.Backend{Provider: gemini, Profile: ai.GeminiProfile()})
	}
	if cfg.AI.OpenAIAPIKey != "" {
		backends = append(backends, ai.Backend{
			Provider: ai.NewOpenAI(ai.OpenAIConfig{APIKey: cfg.AI.OpenAIAPIKey, Model: cfg.AI.OpenAIModel}),
			Profile:  ai.OpenAIProfile(),
		})
	}
	chain := ai.NewChain(backends, ai.Options{
		Timeout:        cfg.AI.ProviderTimeout,
		TypingDelayMin: cfg.AI.TypingDelayMin,
		TypingDelayMax: cfg.AI.TypingDelayMax,
		CannedMemory:   cfg.AI.CannedMemory,
		Logger:         logging.Component("ai"),
	})
	if len(backends) == 0 {
		log.Warn().Msg("no AI provider configured, personas will use canned replies")
	}

	// --- Core ---
	reg := registry.New(logging.Component("registry"))
	rooms := chat.NewDirectory(chat.DefaultTranscriptSize)
	matcher := matching.NewMatchmaker(rooms, logging.Component("matcher"))
	ho := handoff.New(handoff.Config{Delay: cfg.AI.HandoffDelay}, matcher, reg, chain, repo, logging.Component("handoff"))

	rl := relay.New(relay.Config{
		MessageRule: ratelimit.MessageRule(cfg.RateLimitMessages, cfg.RateLimitWindow),
	}, relay.Deps{
		Registry:   reg,
		Rooms:      rooms,
		Matchmaker: matcher,
		Store:      repo,
		Handoff:    ho,
		Limiter:    limiter,
		Publisher:  publisher,
		Log:        logging.Component("relay"),
	})
	ho.SetNotifier(rl)

	// --- Transport ---
	dispatcher := ws.NewMessageDispatcher(logging.Component("ws"))
	for msgType, h := range rl.Handlers() {
		h := h
		dispatcher.Register(msgType, func(conn *ws.Connection, msg interface{}) {
			h(conn, msg)
		})
	}

	server := ws.NewServer(ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxFrameSize:   chat.MaxMessageBytes,
		Heartbeat:      ws.DefaultHeartbeatConfig(),
	}, dispatcher.Dispatch, logging.Component("ws"))
	server.SetOnConnect(func(c *ws.Connection) { rl.OnConnect(c) })
	server.SetOnDisconnect(func(c *ws.Connection) { rl.OnDisconnect(c) })

	gin.SetMode(gin.ReleaseMode)
	server.Handle("/api/", api.NewRouter(api.NewHandler(rl, repo, rooms, logging.Component("api")), logging.Component("api")))
	server.Handle("/metrics", metrics.Handler())

	log.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("store", cfg.StoreBackend).
		Strs("providers", chain.Providers()).
		Dur("handoff_delay", cfg.AI.HandoffDelay).
		Bool("nats", publisher != nil).
		Msg("chatkool server starting")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	stopped := make(chan struct{})
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
		shutdown(server, ho, cleanup, log)
		close(stopped)
	}()

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	// Start returns once the server is down; the handoff sessions and the
	// backends close after it.
	<-stopped
	log.Info().Msg("shutdown complete")
}

func shutdown(server *ws.Server, ho *handoff.Controller, cleanup []func() error, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}
	ho.Close()
	for _, fn := range cleanup {
		if err := fn(); err != nil {
			log.Warn().Err(err).Msg("cleanup")
		}
	}
}

func sweep(l *ratelimit.Local, every time.Duration) {
	if every <= 0 {
		every = ratelimit.DefaultMessageWindow
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for range t.C {
		l.Sweep()
	}
}
