// Command echogent is an interactive coding assistant for the terminal. It
// forwards requests to a tool-using model billed through Echo and streams
// the answer back.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sragss/echogent/agentloop"
	"github.com/sragss/echogent/config"
	"github.com/sragss/echogent/console"
	"github.com/sragss/echogent/echo"
	"github.com/sragss/echogent/journal"
	"github.com/sragss/echogent/unifiedllm"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	renderer := console.NewRenderer(stdout)
	renderer.Banner()

	apiKey, err := resolveAPIKey(ctx, cfg, stdin, stdout)
	if err != nil {
		return err
	}

	if cfg.IsEcho() {
		check := &echo.FundsCheck{
			Client:    echo.NewClient(cfg.EchoURL, apiKey),
			Threshold: cfg.BalanceThreshold,
			TopUp:     cfg.TopUpAmount,
			Out:       stdout,
		}
		if _, err := check.Run(ctx); err != nil {
			return err
		}
	}

	client, err := buildClient(cfg, apiKey, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	registry, err := agentloop.NewCoreRegistry(cfg.ToolOptions())
	if err != nil {
		return err
	}

	opts := []agentloop.Option{
		agentloop.WithConfig(cfg.SessionConfig()),
		agentloop.WithSink(renderer),
		agentloop.WithLogger(logger),
	}
	if cfg.JournalPath != "" {
		j, err := journal.Open(ctx, cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, agentloop.WithRecorder(j))

		if cfg.Resume != "" {
			id, msgs, err := j.Resume(ctx, cfg.Resume)
			if err != nil {
				return err
			}
			opts = append(opts, agentloop.WithSessionID(id), agentloop.WithTranscript(msgs))
			renderer.Trace(fmt.Sprintf("Resuming session %s (%d messages)", id, len(msgs)))
		}
	}

	session := agentloop.NewSession(client, registry, agentloop.NewLocalEnvironment(cfg.WorkingDir), opts...)
	defer session.Close()
	logger.Debug("session started", "id", session.ID(), "model", session.Config().Model, "provider", cfg.Provider)

	return console.NewDriver(session, stdin, renderer, logger).Run(ctx)
}

// resolveAPIKey returns the key for the configured provider. Echo keys go
// through the saved-credential and registration flow; other providers take
// ECHOGENT_API_KEY or fall back to their own environment variables.
func resolveAPIKey(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout io.Writer) (string, error) {
	switch {
	case cfg.IsEcho():
		r := &echo.Resolver{
			Store:    echo.NewCredentialStore(cfg.CredentialPath()),
			EchoURL:  cfg.EchoURL,
			AppID:    cfg.AppID,
			Override: cfg.APIKey,
			In:       stdin,
			Out:      stdout,
		}
		return r.Resolve(ctx)
	case cfg.Provider == "anthropic":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return "", errors.New("ANTHROPIC_API_KEY is not set")
		}
		return key, nil
	default:
		return cfg.APIKey, nil
	}
}

// buildClient registers the adapter for the configured provider as the
// client's default and logs every model request at debug level.
func buildClient(cfg *config.Config, apiKey string, logger *slog.Logger) (*unifiedllm.Client, error) {
	var adapter unifiedllm.ProviderAdapter
	switch cfg.Provider {
	case "echo":
		adapter = unifiedllm.NewEchoAdapter(apiKey, cfg.RouterURL,
			unifiedllm.WithDefaultMaxTokens(cfg.MaxTokens))
	case "anthropic":
		adapter = unifiedllm.NewAnthropicAdapter(apiKey,
			unifiedllm.WithBaseURL(cfg.AnthropicURL),
			unifiedllm.WithDefaultMaxTokens(cfg.MaxTokens))
	default:
		a, err := unifiedllm.NewGollmAdapter(cfg.Provider, apiKey,
			unifiedllm.WithModel(cfg.Model),
			unifiedllm.WithMaxTokens(cfg.MaxTokens))
		if err != nil {
			return nil, err
		}
		adapter = a
	}
	return unifiedllm.NewClient(
		unifiedllm.WithProvider(cfg.Provider, adapter),
		unifiedllm.WithDefaultProvider(cfg.Provider),
		unifiedllm.WithStreamMiddleware(unifiedllm.LogStreamMiddleware(logger)),
	), nil
}
