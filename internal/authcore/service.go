package authcore

import (
	"go.uber.org/zap"

	"github.com/dayone-kr/authcore/internal/provider"
)

// Service drives the login, refresh, logout, and withdrawal sequences over the
// configured stores and provider clients.
type Service struct {
	config         ServerConfig
	clock          Clock
	logger         *zap.Logger
	metrics        MetricsRecorder
	accounts       AccountStore
	refreshTokens  RefreshTokenStore
	revocations    RevocationList
	providers      map[string]provider.Client
	providerTokens map[string]ProviderTokenStore
}

// ServiceDeps collects the collaborators wired into a Service.
type ServiceDeps struct {
	Clock          Clock
	Logger         *zap.Logger
	Metrics        MetricsRecorder
	Accounts       AccountStore
	RefreshTokens  RefreshTokenStore
	Revocations    RevocationList
	Providers      []provider.Client
	ProviderTokens map[string]ProviderTokenStore
}

// NewService constructs a Service. Logger and metrics default to no-ops.
func NewService(config ServerConfig, deps ServiceDeps) *Service {
	if deps.Clock == nil {
		deps.Clock = NewSystemClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	providers := make(map[string]provider.Client, len(deps.Providers))
	for _, client := range deps.Providers {
		providers[client.Name()] = client
	}
	return &Service{
		config:         config,
		clock:          deps.Clock,
		logger:         deps.Logger,
		metrics:        deps.Metrics,
		accounts:       deps.Accounts,
		refreshTokens:  deps.RefreshTokens,
		revocations:    deps.Revocations,
		providers:      providers,
		providerTokens: deps.ProviderTokens,
	}
}

// Config exposes the immutable server configuration.
func (service *Service) Config() ServerConfig {
	return service.config
}

// Clock exposes the service clock.
func (service *Service) Clock() Clock {
	return service.clock
}

// Revocations exposes the revocation list for middleware wiring.
func (service *Service) Revocations() RevocationList {
	return service.revocations
}

// Provider returns the client registered under the given name.
func (service *Service) Provider(providerName string) (provider.Client, bool) {
	client, found := service.providers[providerName]
	return client, found
}
