package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	chromem "github.com/philippgille/chromem-go"
	"github.com/spf13/cobra"

	"github.com/parasol-ai/parasol/internal/agent"
	"github.com/parasol-ai/parasol/internal/docqa"
	"github.com/parasol-ai/parasol/internal/llm"
	"github.com/parasol-ai/parasol/internal/profile"
	"github.com/parasol-ai/parasol/plugin/vectorstore"
	"github.com/parasol-ai/parasol/server"
	"github.com/parasol-ai/parasol/store"
	"github.com/parasol-ai/parasol/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "parasol",
	Short: "Multi-tenant LLM agent backend",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run()
	},
}

func run() error {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	p, err := profile.New()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	driver, err := db.NewDBDriver(p)
	if err != nil {
		return err
	}
	defer driver.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := driver.Migrate(ctx); err != nil {
		return err
	}
	st := store.New(driver, p)

	embedFn := chromem.NewEmbeddingFuncOpenAICompat(p.LLMBaseURL, p.LLMAPIKey, p.EmbeddingModel, nil)
	vs, err := vectorstore.New(p.Data, embedFn)
	if err != nil {
		return err
	}

	registry := llm.NewRegistry(st, llm.OpenAIClientFactory(p), p.LLMModel, p.LLMCacheCapacity)
	factory := agent.NewFactory(st, registry, vs)
	qa := docqa.New(st, registry, vs)

	srv := server.NewServer(p, st, registry, factory, qa)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown failed", "err", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}
