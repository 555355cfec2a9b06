package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/secureyeoman/secureyeoman/pkg/ai"
	"github.com/secureyeoman/secureyeoman/pkg/audit"
	"github.com/secureyeoman/secureyeoman/pkg/auth"
	"github.com/secureyeoman/secureyeoman/pkg/config"
	"github.com/secureyeoman/secureyeoman/pkg/database"
	"github.com/secureyeoman/secureyeoman/pkg/hooks"
	"github.com/secureyeoman/secureyeoman/pkg/integration"
	"github.com/secureyeoman/secureyeoman/pkg/memory"
	"github.com/secureyeoman/secureyeoman/pkg/observability"
	"github.com/secureyeoman/secureyeoman/pkg/ratelimit"
	"github.com/secureyeoman/secureyeoman/pkg/rbac"
	"github.com/secureyeoman/secureyeoman/pkg/server"
	"github.com/secureyeoman/secureyeoman/pkg/soul"
	"github.com/secureyeoman/secureyeoman/pkg/task"
	"github.com/secureyeoman/secureyeoman/pkg/vector"
)

// runServer wires every subsystem and serves until SIGINT/SIGTERM.
func runServer(stderr io.Writer) int {
	if err := serve(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.Version = version
	logger := slog.Default().With("component", "main")

	db, driver, err := database.Open(cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database ready", "driver", driver)

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:    "secureyeoman",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Insecure:       true,
	})
	if err != nil {
		return err
	}
	defer func() { _ = telemetry.Shutdown(context.Background()) }()

	// Audit chain. Everything else records through it, so it comes first.
	auditStorage, err := audit.NewSQLStorage(ctx, db)
	if err != nil {
		return err
	}
	chain, err := audit.NewChain(ctx, auditStorage, []byte(cfg.SigningKey))
	if err != nil {
		return err
	}

	// Auth: tokens, login flow, API keys.
	nonces, err := auth.NewSQLNonceStore(ctx, db)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService([]byte(cfg.TokenSecret), nonces, chain)
	if err != nil {
		return err
	}
	var counters ratelimit.CounterStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		counters = ratelimit.NewRedisCounterStore(redis.NewClient(opts), "friday")
	} else {
		mem := ratelimit.NewMemoryCounterStore()
		defer mem.Close()
		counters = mem
	}
	authSvc := auth.NewService(cfg.AdminPasswordHash, tokens, ratelimit.NewLimiter(counters), chain)
	apiKeys, err := auth.NewAPIKeyStore(ctx, db)
	if err != nil {
		return err
	}

	// RBAC.
	roles, err := rbac.NewStore(ctx, db)
	if err != nil {
		return err
	}
	rbacEngine, err := rbac.NewEngine(roles, chain)
	if err != nil {
		return err
	}

	// Soul.
	soulStore, err := soul.NewStore(ctx, db)
	if err != nil {
		return err
	}
	soulSvc := soul.NewService(soulStore, chain)

	// AI gateway, catalog, usage, routing.
	available := map[string]bool{
		"anthropic": cfg.AnthropicAPIKey != "",
		"openai":    cfg.OpenAIAPIKey != "",
		"deepseek":  cfg.DeepSeekAPIKey != "",
		"mistral":   cfg.MistralAPIKey != "",
		"grok":      cfg.GrokAPIKey != "",
		"gemini":    cfg.GeminiAPIKey != "",
		"ollama":    cfg.OllamaHost != "",
	}
	catalog := ai.NewCatalog(available)
	usage, err := ai.NewUsageTracker(ctx, db, cfg.DailyTokenLimit)
	if err != nil {
		return err
	}
	gateway := ai.NewGateway(catalog, usage)
	if cfg.AnthropicAPIKey != "" {
		gateway.RegisterProvider(ai.NewAnthropic(cfg.AnthropicAPIKey))
	}
	if cfg.OpenAIAPIKey != "" {
		gateway.RegisterProvider(ai.NewOpenAI(cfg.OpenAIAPIKey))
	}
	if cfg.DeepSeekAPIKey != "" {
		gateway.RegisterProvider(ai.NewDeepSeek(cfg.DeepSeekAPIKey))
	}
	if cfg.MistralAPIKey != "" {
		gateway.RegisterProvider(ai.NewMistral(cfg.MistralAPIKey))
	}
	if cfg.GrokAPIKey != "" {
		gateway.RegisterProvider(ai.NewGrok(cfg.GrokAPIKey))
	}
	if cfg.GeminiAPIKey != "" {
		gateway.RegisterProvider(ai.NewGemini(cfg.GeminiAPIKey))
	}
	if cfg.OllamaHost != "" {
		gateway.RegisterProvider(ai.NewOllama(cfg.OllamaHost))
	}
	if cfg.DefaultProvider != "" && cfg.DefaultModel != "" {
		if err := gateway.SetDefault(cfg.DefaultProvider, cfg.DefaultModel); err != nil {
			logger.Warn("configured default model rejected", "error", err)
		}
	}
	modelRouter := ai.NewRouter(catalog)
	optimizer := ai.NewOptimizer(catalog, usage)

	// Memory: embedder, vector index, engine, consolidation.
	var embedder memory.Embedder
	if cfg.OpenAIAPIKey != "" {
		embedder = memory.NewOpenAIEmbedder(cfg.OpenAIAPIKey)
	} else {
		embedder = memory.NewLocalEmbedder(256)
	}
	var index vector.Index
	if cfg.MilvusAddress != "" {
		index, err = vector.OpenMilvus(ctx, cfg.MilvusAddress, "memories", embedder.Dimension())
	} else {
		index, err = vector.OpenFlat(filepath.Join(cfg.DataDir, "vectors.bin"), embedder.Dimension())
	}
	if err != nil {
		return err
	}
	defer index.Close()

	memStore, err := memory.NewStore(ctx, db)
	if err != nil {
		return err
	}
	memEngine := memory.NewEngine(memStore, index, embedder)
	consolidator, err := memory.NewConsolidator(memEngine, gateway, cfg.ConsolidationSchedule)
	if err != nil {
		return err
	}
	consolidator.Start()
	defer consolidator.Stop()

	// Extension hooks and outbound webhooks.
	dispatcher := hooks.NewWebhookDispatcher(cfg.AllowWebhooks)
	hookEngine := hooks.NewEngine(hooks.WithWebhookDispatcher(dispatcher))
	hookStore, err := hooks.NewStore(ctx, db)
	if err != nil {
		return err
	}
	webhooks, err := hookStore.ListWebhooks(ctx)
	if err != nil {
		return err
	}
	for _, wh := range webhooks {
		dispatcher.SetWebhook(wh)
	}
	var discovery *hooks.Discovery
	if cfg.ExtensionsDir != "" {
		discovery, err = hooks.NewDiscovery(hookStore, hookEngine, cfg.ExtensionsDir)
		if err != nil {
			return err
		}
		if err := discovery.LoadPersisted(ctx); err != nil {
			logger.Warn("loading persisted hooks failed", "error", err)
		}
		if _, err := discovery.Discover(ctx); err != nil {
			logger.Warn("extension discovery failed", "error", err)
		}
	}

	// Task executor with the query handler the integrations dispatch to.
	taskStore, err := task.NewStore(ctx, db)
	if err != nil {
		return err
	}
	exec := task.NewExecutor(taskStore, chain, 4, 64)
	defer exec.Stop()
	exec.RegisterHandler("query", queryHandler(gateway, memEngine, soulSvc))

	// Integrations.
	cipher, err := integration.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return err
	}
	integStore, err := integration.NewStore(ctx, db, cipher)
	if err != nil {
		return err
	}
	intRouter := integration.NewRouter(integStore, exec, soulResolver{soulSvc}, chain,
		integration.WithHooks(hookEngine))
	if err := restoreIntegrations(ctx, cfg, integStore, intRouter, logger); err != nil {
		return err
	}

	exec.OnComplete(func(t *task.Task) {
		point := string(hooks.PointTaskCompleted)
		if t.Status == task.StatusFailed {
			point = string(hooks.PointTaskFailed)
		}
		hookEngine.EmitAsync(point, map[string]any{
			"taskId": t.ID,
			"type":   t.Type,
			"status": string(t.Status),
		})
		intRouter.HandleTaskComplete(t)
	})

	hookEngine.EmitAsync(string(hooks.PointSystemStartup), map[string]any{"version": version})

	srv := server.New(server.Deps{
		Config:       cfg,
		Auth:         authSvc,
		Tokens:       tokens,
		APIKeys:      apiKeys,
		Audit:        chain,
		AuditStore:   auditStorage,
		Roles:        roles,
		RBAC:         rbacEngine,
		Soul:         soulSvc,
		Memory:       memEngine,
		Consolidator: consolidator,
		Gateway:      gateway,
		Catalog:      catalog,
		ModelRouter:  modelRouter,
		Usage:        usage,
		Optimizer:    optimizer,
		Hooks:        hookEngine,
		HookStore:    hookStore,
		Discovery:    discovery,
		Webhooks:     dispatcher,
		Integrations: integStore,
		IntRouter:    intRouter,
		Tasks:        exec,
		Visitors:     ratelimit.NewVisitorLimiter(20, 40),
		Telemetry:    telemetry,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(fmt.Sprintf(":%d", cfg.Port)) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	hookEngine.EmitAsync(string(hooks.PointSystemShutdown), nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// restoreIntegrations rebuilds adapters for persisted integrations and
// starts the autostart platforms.
func restoreIntegrations(ctx context.Context, cfg *config.Config, store *integration.Store, router *integration.Router, logger *slog.Logger) error {
	list, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, integ := range list {
		if !integ.Enabled {
			continue
		}
		adapter, err := integration.NewAdapter(integ.Platform, router)
		if err != nil {
			logger.Warn("integration skipped", "id", integ.ID, "error", err)
			continue
		}
		if err := adapter.Init(ctx, integ); err != nil {
			logger.Warn("integration init failed", "id", integ.ID, "error", err)
			continue
		}
		router.RegisterAdapter(integ.ID, adapter)
		if cfg.Autostart[integ.Platform] {
			if err := adapter.Start(ctx); err != nil {
				logger.Warn("integration autostart failed", "id", integ.ID, "error", err)
				continue
			}
			_ = store.SetStatus(ctx, integ.ID, integration.StatusConnected, time.Now().UnixMilli())
			logger.Info("integration started", "id", integ.ID, "platform", integ.Platform)
		}
	}
	return nil
}

// soulResolver adapts the soul service to the integration router's view of
// the active personality.
type soulResolver struct {
	svc *soul.Service
}

func (r soulResolver) Active(ctx context.Context) (*integration.ActivePersonality, error) {
	p, err := r.svc.Active(ctx)
	if err != nil {
		return nil, err
	}
	return &integration.ActivePersonality{
		Voice:                p.Voice,
		SelectedIntegrations: p.SelectedIntegrations,
	}, nil
}

// queryHandler answers free-form queries: active persona prompt plus any
// similar memories as context, then one gateway chat call.
func queryHandler(gateway *ai.Gateway, mem *memory.Engine, soulSvc *soul.Service) task.Handler {
	return func(ctx context.Context, t *task.Task, _ task.ExecContext, guard *task.LoopGuard) (string, error) {
		system, err := soulSvc.PromptPreview(ctx)
		if err != nil {
			// No active personality yet; answer without one.
			system = ""
		}

		hits, err := mem.Search(ctx, t.Input, 3, 0.55)
		if err == nil && len(hits) > 0 {
			var b strings.Builder
			b.WriteString(system)
			b.WriteString("\n\nRelevant memories:\n")
			for _, h := range hits {
				b.WriteString("- ")
				b.WriteString(h.Memory.Content)
				b.WriteString("\n")
			}
			system = b.String()
		}

		msgs := make([]ai.Message, 0, 2)
		if system != "" {
			msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: system})
		}
		msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: t.Input})
		resp, err := gateway.Chat(ctx, ai.ChatRequest{Messages: msgs})
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		_ = guard.RecordToolCall("model.chat", map[string]any{"input": t.Input}, outcome)
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}
}
