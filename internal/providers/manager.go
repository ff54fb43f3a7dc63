package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"shelfindex/internal/config"
	"shelfindex/internal/logging"
	"shelfindex/internal/metrics"
	"shelfindex/internal/util"
)

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
	breaker  *gobreaker.CircuitBreaker[[][]float32]
}

// Manager owns the configured embedding providers for the life of the
// process. A run picks one provider with Select and uses only that one, so a
// single index never mixes embedding spaces.
type Manager struct {
	embedProviders []NamedEmbedProvider
	maxAttempts    int
	backoff        time.Duration
}

type ManagerOptions struct {
	// Cooldown is how long a tripped breaker stays open.
	Cooldown time.Duration
	// FailureThreshold is the consecutive failures that trip a breaker.
	FailureThreshold uint32
	MaxAttempts      int
	Backoff          time.Duration
}

func NewManager(cfg config.Config) (*Manager, error) {
	refs := ParseProviderList(cfg.EmbedProviders)
	named := make([]NamedEmbedProvider, 0, len(refs))
	for _, ref := range refs {
		p, err := buildProvider(ref, cfg.ContentDim)
		if err != nil {
			return nil, err
		}
		named = append(named, NamedEmbedProvider{Ref: ref, Provider: p})
	}
	return NewManagerWithProviders(named, ManagerOptions{
		Cooldown: time.Duration(cfg.ProviderCooldownSecs) * time.Second,
	}), nil
}

func NewManagerWithProviders(named []NamedEmbedProvider, opts ManagerOptions) *Manager {
	if opts.Cooldown <= 0 {
		opts.Cooldown = time.Minute
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 3
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	m := &Manager{maxAttempts: opts.MaxAttempts, backoff: opts.Backoff}
	for _, n := range named {
		n.breaker = newBreaker(n.Ref.Raw, opts)
		m.embedProviders = append(m.embedProviders, n)
	}
	if len(m.embedProviders) == 0 {
		mock := NamedEmbedProvider{Ref: ProviderRef{Raw: "mock", Name: "mock"}, Provider: NewMockProvider(0)}
		mock.breaker = newBreaker("mock", opts)
		m.embedProviders = []NamedEmbedProvider{mock}
	}
	return m
}

func newBreaker(name string, opts ManagerOptions) *gobreaker.CircuitBreaker[[][]float32] {
	return gobreaker.NewCircuitBreaker[[][]float32](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     opts.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logging.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("embedding provider breaker changed state")
		},
	})
}

// Select returns the first reachable provider in preferred order.
func (m *Manager) Select(ctx context.Context) (ProviderRef, ProviderInfo, error) {
	var errs []error
	for _, i := range m.PreferredEmbedOrder() {
		p := m.embedProviders[i]
		if p.breaker.State() == gobreaker.StateOpen {
			errs = append(errs, fmt.Errorf("%s: breaker open", p.Ref.Raw))
			continue
		}
		if err := p.Provider.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Ref.Raw, err))
			continue
		}
		return p.Ref, p.Provider.Info(), nil
	}
	return ProviderRef{}, ProviderInfo{}, fmt.Errorf("%w: no embedding provider reachable: %w", util.ErrConnection, errors.Join(errs...))
}

// Embed calls the provider named by raw through its breaker, retrying
// rate-limited and transient failures.
func (m *Manager) Embed(ctx context.Context, raw string, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	idx := m.FindEmbedProviderIndex(raw)
	if idx < 0 {
		return nil, ProviderInfo{}, fmt.Errorf("embedding provider %q is not configured in this worker", raw)
	}
	p := m.embedProviders[idx]
	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		var info ProviderInfo
		vectors, err := p.breaker.Execute(func() ([][]float32, error) {
			v, i, err := p.Provider.Embed(ctx, req)
			info = i
			return v, err
		})
		if err == nil {
			metrics.EmbeddingRequests.WithLabelValues(p.Ref.Name, "ok").Inc()
			return vectors, info, nil
		}
		lastErr = err
		errType := ClassifyError(err)
		metrics.EmbeddingRequests.WithLabelValues(p.Ref.Name, string(errType)).Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || !errType.Retryable() || attempt == m.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, p.Provider.Info(), ctx.Err()
		case <-time.After(time.Duration(attempt) * m.backoff):
		}
	}
	if errors.Is(lastErr, gobreaker.ErrOpenState) {
		lastErr = fmt.Errorf("%w: %s: %w", util.ErrConnection, p.Ref.Raw, lastErr)
	}
	return nil, p.Provider.Info(), fmt.Errorf("embed via %s failed: %w", p.Ref.Raw, lastErr)
}

// Ping checks the provider named by raw without going through its breaker.
func (m *Manager) Ping(ctx context.Context, raw string) error {
	idx := m.FindEmbedProviderIndex(raw)
	if idx < 0 {
		return fmt.Errorf("embedding provider %q is not configured in this worker", raw)
	}
	if err := m.embedProviders[idx].Provider.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", util.ErrConnection, raw, err)
	}
	return nil
}

func (m *Manager) EmbedCount() int {
	return len(m.embedProviders)
}

// PreferredEmbedOrder lists the providers Select may pick, in config order.
// The mock provider is a candidate only when no real provider is configured;
// it can still be pinned by name.
func (m *Manager) PreferredEmbedOrder() []int {
	n := len(m.embedProviders)
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if !isMock(m.embedProviders[i].Ref) {
			out = append(out, i)
		}
	}
	if len(out) > 0 {
		return out
	}
	for i := 0; i < n; i++ {
		out = append(out, i)
	}
	return out
}

func isMock(ref ProviderRef) bool {
	return strings.EqualFold(ref.Name, "mock")
}

func (m *Manager) EmbedProviderRefs() []ProviderRef {
	out := make([]ProviderRef, 0, len(m.embedProviders))
	for i := range m.embedProviders {
		out = append(out, m.embedProviders[i].Ref)
	}
	return out
}

func (m *Manager) FindEmbedProviderIndex(raw string) int {
	target := strings.ToLower(strings.TrimSpace(raw))
	if target == "" {
		return -1
	}
	for i := range m.embedProviders {
		ref := m.embedProviders[i].Ref
		candidates := []string{
			strings.ToLower(strings.TrimSpace(ref.Raw)),
			strings.ToLower(strings.TrimSpace(ref.Name)),
		}
		if ref.KeyAlias != "" {
			candidates = append(candidates, strings.ToLower(strings.TrimSpace(ref.Name+":"+ref.KeyAlias)))
		}
		for _, c := range candidates {
			if c == target {
				return i
			}
		}
	}
	return -1
}

func buildProvider(ref ProviderRef, dim int) (EmbeddingProvider, error) {
	switch strings.ToLower(ref.Name) {
	case "mock":
		return NewMockProvider(dim), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaEmbeddingProvider(ref.KeyAlias), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", ref.Name)
	}
}
