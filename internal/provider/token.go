package provider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Policy-Guru-za/chipin/internal/kv"
)

const (
	// tokenSkew - насколько раньше реального истечения токен удаляется из кэша.
	tokenSkew = time.Minute
	// defaultTokenTTL используется, если сервер токенов не сообщил срок жизни.
	defaultTokenTTL = 10 * time.Minute
)

// TokenFetcher получает новый токен доступа. Ему удовлетворяет *clientcredentials.Config.
type TokenFetcher interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// TokenCache хранит токен доступа провайдера в общем kv.Store, чтобы все экземпляры
// сервиса переиспользовали один токен до его истечения.
type TokenCache struct {
	store   kv.Store
	key     string
	fetcher TokenFetcher
	logger  *zap.Logger
	now     kv.Clock
}

// NewTokenCache создаёт кэш токенов под ключом key.
func NewTokenCache(store kv.Store, key string, fetcher TokenFetcher, logger *zap.Logger) *TokenCache {
	return &TokenCache{
		store:   store,
		key:     key,
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
}

// AccessToken возвращает действующий токен из кэша или получает новый.
// Недоступность кэша не мешает получить токен напрямую.
func (c *TokenCache) AccessToken(ctx context.Context) (string, error) {
	v, ok, err := c.store.Get(ctx, c.key)
	switch {
	case err != nil:
		c.logger.Warn("token cache read failed", zap.String("key", c.key), zap.Error(err))
	case ok && len(v) > 0:
		return string(v), nil
	}

	tok, err := c.fetcher.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}

	ttl := defaultTokenTTL
	if !tok.Expiry.IsZero() {
		ttl = tok.Expiry.Sub(c.now()) - tokenSkew
	}

	if ttl > 0 {
		if err := c.store.Set(ctx, c.key, []byte(tok.AccessToken), ttl); err != nil {
			c.logger.Warn("token cache write failed", zap.String("key", c.key), zap.Error(err))
		}
	}

	return tok.AccessToken, nil
}

// Invalidate удаляет токен из кэша, например после ответа 401 от API.
func (c *TokenCache) Invalidate(ctx context.Context) error {
	if err := c.store.Delete(ctx, c.key); err != nil {
		c.logger.Warn("token cache invalidation failed", zap.String("key", c.key), zap.Error(err))
		return fmt.Errorf("invalidate access token: %w", err)
	}
	c.logger.Info("access token invalidated", zap.String("key", c.key))
	return nil
}
