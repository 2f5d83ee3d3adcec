package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cexll/assisthub-go/pkg/apicall"
	"github.com/cexll/assisthub-go/pkg/assistant"
	"github.com/cexll/assisthub-go/pkg/autoassist"
	"github.com/cexll/assisthub-go/pkg/chat"
	"github.com/cexll/assisthub-go/pkg/config"
	"github.com/cexll/assisthub-go/pkg/logger"
	"github.com/cexll/assisthub-go/pkg/model"
	anthropicmodel "github.com/cexll/assisthub-go/pkg/model/anthropic"
	openaimodel "github.com/cexll/assisthub-go/pkg/model/openai"
	"github.com/cexll/assisthub-go/pkg/telemetry"
	"github.com/cexll/assisthub-go/pkg/trigger"
)

// app bundles the wired components a command needs.
type app struct {
	cfg       *config.ServiceConfig
	log       *zap.Logger
	manager   *chat.Manager
	orch      *autoassist.Orchestrator
	completer model.Completer
	shutdown  telemetry.Shutdown
}

// newApp builds the full component graph from the config at cfgPath.
func newApp(ctx context.Context, cfgPath string, orchOpts ...autoassist.Option) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	var shutdown telemetry.Shutdown
	if cfg.Telemetry.Enabled {
		shutdown, err = telemetry.Init(ctx, telemetry.Config{
			ServiceName: "assisthub",
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
		})
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	}
	completer, err := buildCompleter(cfg.Provider)
	if err != nil {
		return nil, err
	}
	backend, err := assistant.NewFileBackend(cfg.StorePath)
	if err != nil {
		return nil, err
	}
	store, err := assistant.NewStore(backend, log)
	if err != nil {
		return nil, err
	}
	engine := trigger.NewEngine(completer, log)
	executor := apicall.NewExecutor(nil, log)
	manager, err := chat.NewManager(store, completer, engine, executor, log)
	if err != nil {
		return nil, err
	}
	opts := []autoassist.Option{autoassist.WithAgentMode(cfg.AgentMode)}
	if cfg.FallbackPrompt != "" {
		opts = append(opts, autoassist.WithFallbackPrompt(cfg.FallbackPrompt))
	}
	opts = append(opts, orchOpts...)
	orch, err := autoassist.New(manager, completer, log, opts...)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:       cfg,
		log:       log,
		manager:   manager,
		orch:      orch,
		completer: completer,
		shutdown:  shutdown,
	}, nil
}

func (a *app) close(ctx context.Context) {
	if a.shutdown != nil {
		_ = a.shutdown(ctx)
	}
	_ = a.log.Sync()
}

func buildCompleter(p config.ProviderConfig) (model.Completer, error) {
	switch p.Name {
	case "openai":
		if p.BaseURL != "" {
			return openaimodel.NewWithBaseURL(p.APIKey, p.Model, p.BaseURL, p.MaxTokens), nil
		}
		return openaimodel.New(p.APIKey, p.Model, p.MaxTokens), nil
	case "anthropic":
		if p.BaseURL != "" {
			return anthropicmodel.NewWithBaseURL(p.APIKey, p.Model, p.BaseURL, p.MaxTokens), nil
		}
		return anthropicmodel.New(p.APIKey, p.Model, p.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", p.Name)
	}
}
