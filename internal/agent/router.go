package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
)

// DefaultRoute is the models key used when no more specific route matches.
const DefaultRoute = "default"

// ParseModelURI splits "provider://model" into its parts.
func ParseModelURI(uri string) (scheme, model string, err error) {
	scheme, model, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" || model == "" {
		return "", "", fmt.Errorf("invalid model URI %q: want provider://model", uri)
	}
	return strings.ToLower(scheme), model, nil
}

// Router resolves a stage to a model URI and forwards the call to a Client
// for that URI. Clients are created lazily and reused.
type Router struct {
	models     map[string]string
	providers  map[string]Provider
	clientOpts []Option

	mu      sync.Mutex
	clients map[string]*Client
	logger  *slog.Logger
}

// NewRouter takes the stage -> URI table; it must contain DefaultRoute.
func NewRouter(models map[string]string, clientOpts ...Option) (*Router, error) {
	if _, ok := models[DefaultRoute]; !ok {
		return nil, fmt.Errorf("model routes: %q route is required", DefaultRoute)
	}
	for route, uri := range models {
		if _, _, err := ParseModelURI(uri); err != nil {
			return nil, fmt.Errorf("model route %s: %w", route, err)
		}
	}

	copied := make(map[string]string, len(models))
	for k, v := range models {
		copied[k] = v
	}

	return &Router{
		models:     copied,
		providers:  make(map[string]Provider),
		clientOpts: clientOpts,
		clients:    make(map[string]*Client),
		logger:     slog.Default().With("component", "model_router"),
	}, nil
}

// Register makes a provider reachable under its Name() as URI scheme.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Name())] = p
}

// Resolve returns the model URI for a stage such as "scene_text.critique".
// Lookup order: the full stage, its action, its scope, then the default.
func (r *Router) Resolve(stage string) string {
	scope, action, _ := strings.Cut(stage, ".")
	for _, key := range []string{stage, action, scope} {
		if key == "" {
			continue
		}
		if uri, ok := r.models[key]; ok {
			return uri
		}
	}
	return r.models[DefaultRoute]
}

func (r *Router) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	client, err := r.client(opts.Stage)
	if err != nil {
		return "", err
	}
	return client.Generate(ctx, prompt, opts)
}

func (r *Router) client(stage string) (*Client, error) {
	uri := r.Resolve(stage)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[uri]; ok {
		return c, nil
	}

	scheme, model, err := ParseModelURI(uri)
	if err != nil {
		return nil, err
	}
	provider, ok := r.providers[scheme]
	if !ok {
		return nil, &core.ProviderError{
			Provider: scheme,
			Model:    model,
			Stage:    stage,
			Cause:    fmt.Errorf("%w: %s", core.ErrUnknownProvider, scheme),
		}
	}

	c := NewClient(provider, model, r.clientOpts...)
	r.clients[uri] = c
	r.logger.Debug("model route bound",
		"stage", stage,
		"uri", uri)
	return c, nil
}
