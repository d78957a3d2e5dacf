package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mohammad-safakhou/resourcefinder/config"
	"github.com/mohammad-safakhou/resourcefinder/provider"
	openai_provider "github.com/mohammad-safakhou/resourcefinder/provider/openai"
	"github.com/mohammad-safakhou/resourcefinder/session"
	"github.com/mohammad-safakhou/resourcefinder/session/inmemory"
	redisstore "github.com/mohammad-safakhou/resourcefinder/session/redis"
)

// NewHTTPClient returns a client whose transport records spans for every
// outbound request.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// NewProvider creates the configured LLM gateway.
func NewProvider(cfg config.LLMConfig) (provider.Provider, error) {
	switch provider.Client(cfg.Type) {
	case provider.OpenAI:
		return openai_provider.NewOpenAIClient(cfg.APIKey, cfg.BaseURL, NewHTTPClient(cfg.Timeout)), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Type)
	}
}

// NewSessionStore builds the configured conversation store. The returned
// close func releases backend connections.
func NewSessionStore(ctx context.Context, cfg *config.Config) (session.Store, func() error, error) {
	switch session.StoreType(cfg.Session.Store) {
	case session.InMemoryStore:
		return inmemory.NewInMemorySessionStore(cfg.Session.TTL), func() error { return nil }, nil
	case session.RedisStore:
		rc := cfg.Storage.Redis
		client := redis.NewClient(&redis.Options{
			Addr:        rc.Addr(),
			Password:    rc.Password,
			DB:          rc.DB,
			DialTimeout: rc.Timeout,
			ReadTimeout: rc.Timeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", rc.Addr(), err)
		}
		return redisstore.NewRedisSessionStore(client, cfg.Session.TTL), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store: %s", cfg.Session.Store)
	}
}
