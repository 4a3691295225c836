package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/agent"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/config"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/storage"
)

// newGateway builds the model router for every provider the config routes
// to, wrapped in the response cache when enabled.
func newGateway(cfg *config.Config, useCache bool) (agent.Gateway, error) {
	if err := cfg.RequireKeys(); err != nil {
		return nil, err
	}

	router, err := agent.NewRouter(cfg.AI.Models, cfg.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("building model router: %w", err)
	}
	for _, scheme := range cfg.Schemes() {
		provider, err := newProvider(scheme, cfg.AI.Providers[scheme])
		if err != nil {
			return nil, err
		}
		router.Register(provider)
	}

	if !useCache || !cfg.Cache.Enabled {
		return router, nil
	}

	// responses are shared between projects, so they live beside the ledger
	cacheStore := storage.NewFileSystem(filepath.Dir(cfg.Paths.RecordsDB))
	cache, err := agent.NewResponseCache(cacheStore, cfg.Cache.Size, cfg.Cache.TTL)
	if err != nil {
		return nil, err
	}
	slog.Debug("response cache enabled", "dir", cacheStore.BaseDir(), "size", cfg.Cache.Size)
	return agent.WithCache(router, cache), nil
}

func newProvider(name string, pc config.ProviderConfig) (agent.Provider, error) {
	switch name {
	case "anthropic":
		return agent.NewAnthropicProvider(pc.APIKey, pc.BaseURL)
	case "openai":
		return agent.NewOpenAIProvider(pc.APIKey, pc.BaseURL)
	case "ollama":
		return agent.NewCompatProvider(name, pc.APIKey, orDefault(pc.BaseURL, agent.OllamaBaseURL))
	case "openrouter":
		return agent.NewCompatProvider(name, pc.APIKey, orDefault(pc.BaseURL, agent.OpenRouterBaseURL))
	}
	if pc.BaseURL != "" {
		return agent.NewCompatProvider(name, pc.APIKey, pc.BaseURL)
	}
	return nil, fmt.Errorf("%w: %s (set ai.providers.%s.base_url for a chat-completions server)", core.ErrUnknownProvider, name, name)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
