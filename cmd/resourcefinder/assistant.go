package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/resourcefinder/config"
	"github.com/mohammad-safakhou/resourcefinder/internal/chat"
	"github.com/mohammad-safakhou/resourcefinder/internal/runtime"
	"github.com/mohammad-safakhou/resourcefinder/internal/store"
	"github.com/mohammad-safakhou/resourcefinder/provider"
	"github.com/mohammad-safakhou/resourcefinder/session"
	"github.com/mohammad-safakhou/resourcefinder/tools"
	"github.com/mohammad-safakhou/resourcefinder/tools/deep_research"
	"github.com/mohammad-safakhou/resourcefinder/tools/query"
)

// assistant bundles the components shared by serve, chat and find.
type assistant struct {
	cfg        *config.Config
	llm        provider.Provider
	distiller  *query.Distiller
	researcher *deep_research.Client
	dispatcher *tools.Dispatcher
	sessions   session.Store
	archive    *store.Store
	orch       *chat.Orchestrator

	closers []func() error
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// buildTools wires the gateway, distiller and research client. It is enough
// for the find command.
func buildTools(cfg *config.Config) (*assistant, error) {
	debug := cfg.General.IsDebug()
	llm, err := runtime.NewProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}
	a := &assistant{cfg: cfg, llm: llm}
	a.distiller = query.NewDistiller(llm, cfg.LLM.Distill.Name, cfg.LLM.Distill.Temperature, cfg.LLM.Distill.MaxTokens)
	a.researcher = deep_research.NewClient(
		cfg.Research.BaseURL,
		cfg.Research.Timeout,
		runtime.NewHTTPClient(cfg.Research.Timeout),
		runtime.DebugLogger("RESEARCH", debug),
	)
	a.dispatcher = tools.NewDispatcher(a.distiller, a.researcher, cfg.Research.Breadth, cfg.Research.Depth, runtime.DebugLogger("TOOLS", debug))
	return a, nil
}

// buildAssistant wires everything including session storage, the optional
// turn archive and the orchestrator.
func buildAssistant(ctx context.Context, cfg *config.Config) (*assistant, error) {
	a, err := buildTools(cfg)
	if err != nil {
		return nil, err
	}

	sessions, closeSessions, err := runtime.NewSessionStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.sessions = sessions
	a.closers = append(a.closers, closeSessions)

	debug := cfg.General.IsDebug()
	opts := []chat.Option{
		chat.WithLogger(runtime.Logger("CHAT")),
		chat.WithDebug(debug),
	}
	archive, err := runtime.OpenArchive(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if archive != nil {
		a.archive = archive
		a.closers = append(a.closers, archive.Close)
		opts = append(opts, chat.WithRecorder(archive))
	}

	a.orch = chat.New(a.llm, a.dispatcher, sessions, chat.Config{
		Model:        cfg.LLM.Chat.Name,
		Temperature:  cfg.LLM.Chat.Temperature,
		MaxTokens:    cfg.LLM.Chat.MaxTokens,
		SystemPrompt: cfg.LLM.SystemPrompt,
		WorkerIdle:   cfg.Session.WorkerIdle,
	}, opts...)
	return a, nil
}

// Close stops the orchestrator and releases storage in reverse order.
func (a *assistant) Close() error {
	if a.orch != nil {
		a.orch.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		log.Printf("shutdown: %v", errors.Join(errs...))
	}
	return errors.Join(errs...)
}
