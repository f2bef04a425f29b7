// chatter: an automated Telegram chat participant. Each configured chat gets a
// persona prompt; incoming messages pass an admission gate, are answered by a
// language model, and are occasionally illustrated with a generated image.
//
// Configuration is read from the environment (see internal/agent/config.go);
// per-chat behaviour lives in the policy document (prompt-config.json).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dmorn/m4d-chatter/internal/agent"
	"github.com/dmorn/m4d-chatter/internal/llm"
	"github.com/dmorn/m4d-chatter/internal/policy"
	"github.com/dmorn/m4d-chatter/internal/telegram"
)

var (
	policyPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "chatter",
	Short: "Automated Telegram chat participant",
	Long: `chatter joins Telegram chats and channels as a persona-driven participant.

Which chats it answers, how it speaks, and how often it replies or posts an
image are set per chat in the policy document. Run without a subcommand to
start the bot.`,
	SilenceUsage: true,
	RunE:         runBot,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot (long polling, or webhook when WEBHOOK_ADDR is set)",
	Args:  cobra.NoArgs,
	RunE:  runBot,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "policy document path (overrides POLICY_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	rootCmd.AddCommand(runCmd, validateCmd, historyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := agent.LoadConfig()
	if err != nil {
		return err
	}
	if policyPath != "" {
		cfg.PolicyPath = policyPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := agent.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	zl := logger.Zap()

	// A broken policy document is fatal. Validate before touching Telegram.
	policies := policy.NewLookup(cfg.PolicyPath, policy.WithFatal(func(err error) {
		zl.Fatal("policy document rejected", zap.String("path", cfg.PolicyPath), zap.Error(err))
	}))
	doc, err := policies.Load()
	if err != nil {
		return err
	}
	zl.Info("policy loaded", zap.String("path", cfg.PolicyPath), zap.Int("conversations", len(doc.Policies)))

	store, err := openStore(ctx, cfg.Store, zl)
	if err != nil {
		return err
	}
	defer store.Close()

	model, err := newModel(ctx, cfg, logger)
	if err != nil {
		return err
	}

	tg := telegram.New(cfg.TelegramToken, telegram.WithLogger(zl))
	me, err := tg.Me(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	zl.Info("connected to telegram", zap.Int64("bot_id", me.ID), zap.String("username", me.Username))

	bus := agent.NewInMemoryBus(zl)
	a := agent.New(agent.Options{
		Messenger:     tg,
		LLM:           model,
		History:       store,
		Policies:      policies,
		Dice:          agent.NewDice(cfg.RandomSeed),
		Logger:        logger,
		Bus:           bus,
		SelfID:        me.ID,
		MaxConcurrent: cfg.MaxConcurrent,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Run(gctx) })
	g.Go(func() error {
		defer bus.Close()
		if cfg.WebhookAddr != "" {
			return serveWebhook(gctx, cfg, tg, bus, zl)
		}
		if err := tg.DeleteWebhook(gctx); err != nil {
			zl.Warn("deleteWebhook failed", zap.Error(err))
		}
		zl.Info("long polling", zap.Int("timeout_sec", cfg.PollTimeout))
		return a.PollUpdates(gctx, tg, cfg.PollTimeout)
	})

	err = g.Wait()
	zl.Info("stopped")
	return err
}

// serveWebhook runs the webhook receiver until ctx is done.
func serveWebhook(ctx context.Context, cfg *agent.Config, tg *telegram.Client, bus agent.EventBus, zl *zap.Logger) error {
	const path = "/telegram/webhook"

	if cfg.WebhookURL != "" {
		if err := tg.SetWebhook(ctx, cfg.WebhookURL+path, cfg.WebhookSecret); err != nil {
			return fmt.Errorf("telegram setWebhook: %w", err)
		}
	}

	e := telegram.NewServer(telegram.NewWebhook(cfg.WebhookSecret, bus.Publish, zl), path)
	errc := make(chan error, 1)
	go func() {
		zl.Info("webhook listening", zap.String("addr", cfg.WebhookAddr), zap.String("path", path))
		errc <- e.Start(cfg.WebhookAddr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("webhook server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zl.Warn("webhook shutdown", zap.Error(err))
	}
	<-errc
	return nil
}

// newModel builds the completion client for the configured provider. Anthropic
// has no image endpoint, so image generation is disabled there.
func newModel(ctx context.Context, cfg *agent.Config, logger *agent.Logger) (*llm.Client, error) {
	var (
		provider llm.Provider
		opts     []llm.ClientOption
	)
	switch cfg.LLMProvider {
	case agent.ProviderOpenAI:
		p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:     cfg.LLMKey,
			BaseURL:    cfg.LLMBaseURL,
			ImageModel: cfg.ImageModel,
		})
		if err != nil {
			return nil, err
		}
		provider = p
		opts = append(opts, llm.WithImages(p))
	case agent.ProviderAnthropic:
		p, err := llm.NewAnthropicProvider(cfg.LLMKey, nil)
		if err != nil {
			return nil, err
		}
		provider = p
	case agent.ProviderGemini:
		p, err := llm.NewGeminiProvider(ctx, cfg.LLMKey, cfg.ImageModel)
		if err != nil {
			return nil, err
		}
		provider = p
		opts = append(opts, llm.WithImages(p))
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}

	opts = append(opts, llm.WithObserver(func(c llm.Call) {
		logger.LLMCall(c.Model, c.Usage.InputTokens, c.Usage.OutputTokens, c.Duration.Milliseconds(), c.Err)
	}))
	return llm.New(provider, llm.Options{Model: cfg.LLMModel, MaxTokens: cfg.MaxTokens}, opts...), nil
}
