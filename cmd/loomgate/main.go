// Loomgate - personal AI agent gateway
//
// Copyright (c) 2026 Loomgate contributors

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/loomgate/loomgate/pkg/agent"
	"github.com/loomgate/loomgate/pkg/agenttools"
	"github.com/loomgate/loomgate/pkg/chat"
	"github.com/loomgate/loomgate/pkg/config"
	"github.com/loomgate/loomgate/pkg/hooks"
	"github.com/loomgate/loomgate/pkg/logger"
	"github.com/loomgate/loomgate/pkg/providers"
	"github.com/loomgate/loomgate/pkg/sandbox"
	"github.com/loomgate/loomgate/pkg/session"
	"github.com/loomgate/loomgate/pkg/tracing"
	"github.com/loomgate/loomgate/pkg/utils"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "loomgate",
		Short:   "Run a single-turn Agent Loop request against a configured provider",
		Version: version,
	}
	root.AddCommand(newRunCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	var (
		message    string
		sessionKey string
		model      string
		streamOnly bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Send one message through the Agent Loop and print the reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), message, sessionKey, model, streamOnly)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "user message to send")
	cmd.Flags().StringVarP(&sessionKey, "session", "s", "cli:default", "session key")
	cmd.Flags().StringVar(&model, "model", "", "model reference, e.g. anthropic/claude-sonnet-4-5")
	cmd.Flags().BoolVar(&streamOnly, "stream", false, "stream plain text without the tool loop")
	_ = cmd.MarkFlagRequired("message")

	return cmd
}

func runOnce(ctx context.Context, message, sessionKey, model string, streamOnly bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdown, err := tracing.Init(ctx, "loomgate", cfg.TracingEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdown(ctx)

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if serveErr := http.ListenAndServe(cfg.MetricsAddr, mux); serveErr != nil {
				logger.WarnCF("cli", "metrics listener failed", map[string]any{"error": serveErr.Error()})
			}
		}()
	}

	store, err := session.NewSQLiteStore(cfg.SessionStoreDSN)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	anthropicModel := "claude-sonnet-4-5"
	openaiModel := "gpt-4o"
	if ref := providers.ParseModelRef(model, cfg.DefaultProvider); ref != nil {
		if ref.Provider == "anthropic" {
			anthropicModel = ref.Model
		} else {
			openaiModel = ref.Model
		}
	}

	retryPolicy := utils.DefaultLLMRetryPolicy()
	providerRegistry := providers.NewRegistry()
	providerRegistry.Register(utils.WithRetry(providers.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicAPIBase, anthropicModel), retryPolicy))
	providerRegistry.Register(utils.WithRetry(providers.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIAPIBase, openaiModel), retryPolicy))

	sandboxCfg := cfg.Agents.Defaults.Sandbox
	if config.SandboxMode(sandboxCfg.Mode) == config.SandboxModeOff && len(sandboxCfg.Packages) > 0 {
		sandbox.InstallHostPackages(ctx, sandboxCfg.Packages)
	}

	workspaceRoot := sandboxCfg.WorkspaceRoot
	manager := sandbox.NewFromConfig(workspaceRoot, true, cfg)
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start sandbox manager: %w", err)
	}
	defer manager.Prune(ctx)
	ctx = sandbox.WithManager(ctx, manager)
	ctx = sandbox.WithSessionKey(ctx, sessionKey)

	hostSandbox := sandbox.NewHostSandbox(workspaceRoot, true)
	if err := hostSandbox.Start(ctx); err != nil {
		return fmt.Errorf("start host sandbox: %w", err)
	}
	defer hostSandbox.Prune(ctx)

	registry := agent.NewToolRegistry()
	agenttools.RegisterDefault(registry, cfg, hostSandbox)

	hookRegistry := hooks.NewRegistry()
	hookRegistry.OnBeforeToolCall("builtin-policy", 0, hooks.BuiltinPolicyHook(nil))

	// Terminal frames resolve the wait below; progress frames print as
	// they arrive, the way a connected operator client would render them.
	done := make(chan map[string]any, 1)
	broadcaster := chat.BroadcasterFunc(func(_ string, payload map[string]any) {
		switch payload["state"] {
		case "delta":
			fmt.Print(payload["text"])
		case "thinking_text":
			fmt.Fprintf(os.Stderr, "… %v\n", payload["text"])
		case "tool_call_start":
			fmt.Fprintf(os.Stderr, "→ %v\n", payload["toolName"])
		case "final", "error":
			select {
			case done <- payload:
			default:
			}
		}
	})

	svc := chat.NewService(chat.Options{
		Providers:          providerRegistry,
		Tools:              registry,
		Store:              store,
		Meta:               store,
		Hooks:              hookRegistry,
		Broadcast:          broadcaster,
		Preamble:           "You are loomgate, an autonomous coding agent operating in a sandboxed workspace.",
		ProjectDir:         workspaceRoot,
		DefaultProvider:    cfg.DefaultProvider,
		MaxToolResultBytes: cfg.MaxToolResultBytes,
	})

	runID, err := svc.Send(ctx, chat.SendParams{
		Text:       message,
		Model:      model,
		StreamOnly: streamOnly,
		SessionKey: sessionKey,
	})
	if err != nil {
		return err
	}

	// Ctrl-C aborts the in-flight turn best-effort; already-persisted
	// messages stay persisted.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			svc.Abort(runID)
		}
	}()

	frame := <-done
	if frame["state"] == "error" {
		if errPayload, ok := frame["error"].(map[string]any); ok {
			return fmt.Errorf("run failed (%v): %v", errPayload["type"], errPayload["message"])
		}
		return fmt.Errorf("run failed")
	}
	if !streamOnly {
		fmt.Println(frame["text"])
	} else {
		fmt.Println()
	}
	return nil
}
