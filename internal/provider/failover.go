package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"conduit/internal/domain"
)

// ErrNoProviders is returned when a failover chain is built empty.
var ErrNoProviders = errors.New("failover chain has no providers")

// FailoverProvider tries multiple providers in order, falling back to the
// next one when the current fails.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover chain from the given providers.
func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{
		providers: providers,
		logger:    logger,
	}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

// DefaultModel is the primary provider's model.
func (fp *FailoverProvider) DefaultModel() string {
	if len(fp.providers) == 0 {
		return ""
	}
	return fp.providers[0].DefaultModel()
}

// Chat tries each provider in order and returns the first successful
// response. Fallbacks use their own default model. A cancelled context
// stops the chain.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if len(fp.providers) == 0 {
		return nil, ErrNoProviders
	}
	var lastErr error
	for i, p := range fp.providers {
		attempt := req
		if i > 0 && req.Model == fp.DefaultModel() {
			attempt.Model = ""
		}
		resp, err := p.Chat(ctx, attempt)
		if err == nil {
			if i > 0 {
				fp.logger.Info("failover: used fallback provider",
					"provider", p.Name(),
					"attempt", i+1,
				)
			}
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		fp.logger.Warn("failover: provider failed, trying next",
			"provider", p.Name(),
			"attempt", i+1,
			"err", err,
		)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}
