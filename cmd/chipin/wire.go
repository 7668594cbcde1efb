package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Policy-Guru-za/chipin/internal/alert"
	"github.com/Policy-Guru-za/chipin/internal/config"
	"github.com/Policy-Guru-za/chipin/internal/kv"
	"github.com/Policy-Guru-za/chipin/internal/model"
	"github.com/Policy-Guru-za/chipin/internal/provider"
	"github.com/Policy-Guru-za/chipin/internal/provider/ozow"
	"github.com/Policy-Guru-za/chipin/internal/provider/payfast"
	"github.com/Policy-Guru-za/chipin/internal/provider/snapscan"
	"github.com/Policy-Guru-za/chipin/internal/repository"
	"github.com/Policy-Guru-za/chipin/internal/service"
)

const (
	ozowTokenKey   = "token:ozow"
	alertRetryBase = 2 * time.Second
)

// app содержит собранные зависимости процесса.
type app struct {
	cfg       *config.Config
	repo      *repository.PostgresRepository
	store     kv.Store
	providers []model.Provider
	svc       *service.Service
}

func (a *app) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.repo != nil {
		_ = a.repo.Close()
	}
}

// build собирает зависимости по конфигурации. При ошибке уже открытые ресурсы закрываются.
func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.providers, err = cfg.EnabledProviders()
	if err != nil {
		return nil, err
	}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	a.store, err = openStore(cfg.KV, loadAWS, logger)
	if err != nil {
		return nil, err
	}

	registry, err := buildRegistry(cfg, a.providers, a.store, logger)
	if err != nil {
		return nil, err
	}

	alerts, err := buildAlerts(cfg.Alerts, loadAWS)
	if err != nil {
		return nil, err
	}

	a.repo, err = repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("database initialization: %w", err)
	}

	a.svc = service.NewService(a.repo, registry, alerts, logger, service.Config{
		WebhookMaxAge:             cfg.Webhook.MaxAge,
		ClockSkew:                 cfg.Webhook.ClockSkew,
		ReconcileMinAge:           cfg.Reconcile.MinAge,
		ReconcileLookback:         cfg.Reconcile.Lookback,
		ReconcileLongTailLookback: cfg.Reconcile.LongTailLookback,
		AlertsEnabled:             cfg.Alerts.Enabled,
	})

	return a, nil
}

func openStore(cfg config.KVConfig, loadAWS func() (aws.Config, error), logger *zap.Logger) (kv.Store, error) {
	switch cfg.Backend {
	case config.KVBackendBolt:
		b, err := kv.OpenBolt(cfg.BoltPath, time.Now)
		if err != nil {
			return nil, err
		}
		if n, err := b.Purge(); err != nil {
			logger.Warn("purge expired kv records", zap.Error(err))
		} else if n > 0 {
			logger.Info("purged expired kv records", zap.Int("count", n))
		}
		return b, nil
	case config.KVBackendDynamoDB:
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		return kv.NewDynamo(dynamodb.NewFromConfig(awsCfg), cfg.DynamoTable, time.Now), nil
	default:
		return kv.NewMemory(time.Now), nil
	}
}

func buildRegistry(cfg *config.Config, enabled []model.Provider, store kv.Store, logger *zap.Logger) (*provider.Registry, error) {
	httpClient := provider.NewHTTPClient(cfg.HTTP.Timeout, cfg.HTTP.Retries, logger)

	adapters := make([]provider.Adapter, 0, len(enabled))
	for _, p := range enabled {
		switch p {
		case model.ProviderPayFast:
			sources, err := cfg.AllowedPayFastSources()
			if err != nil {
				return nil, err
			}
			adapters = append(adapters, payfast.New(payfast.Config{
				MerchantID:     cfg.PayFast.MerchantID,
				Passphrase:     cfg.PayFast.Passphrase,
				Strict:         cfg.IsProduction(),
				AllowedSources: sources,
			}))
		case model.ProviderOzow:
			var tokens ozow.AccessTokenSource
			ozowCfg := ozow.Config{
				WebhookSecret: cfg.Ozow.WebhookSecret,
				Tolerance:     cfg.Ozow.WebhookTolerance,
				PageSize:      cfg.Ozow.PageSize,
				MaxPages:      cfg.Reconcile.MaxPages,
			}
			if cfg.Ozow.ListingEnabled() {
				ozowCfg.APIBaseURL = cfg.Ozow.APIBaseURL
				tokens = provider.NewTokenCache(store, ozowTokenKey, &clientcredentials.Config{
					ClientID:     cfg.Ozow.ClientID,
					ClientSecret: cfg.Ozow.ClientSecret,
					TokenURL:     cfg.Ozow.TokenURL,
					Scopes:       cfg.Ozow.Scopes,
				}, logger)
			} else {
				logger.Warn("ozow transaction listing not configured, reconciliation will leave ozow contributions unresolved")
			}
			adapters = append(adapters, ozow.New(ozowCfg, httpClient, tokens))
		case model.ProviderSnapScan:
			snapCfg := snapscan.Config{
				WebhookAuthKey: cfg.SnapScan.WebhookAuthKey,
				PageSize:       cfg.SnapScan.PageSize,
				MaxPages:       cfg.Reconcile.MaxPages,
			}
			if cfg.SnapScan.ListingEnabled() {
				snapCfg.APIBaseURL = cfg.SnapScan.APIBaseURL
				snapCfg.APIKey = cfg.SnapScan.APIKey
			} else {
				logger.Warn("snapscan transaction listing not configured, reconciliation will leave snapscan contributions unresolved")
			}
			adapters = append(adapters, snapscan.New(snapCfg, httpClient))
		}
	}

	return provider.NewRegistry(adapters...), nil
}

func buildAlerts(cfg config.AlertsConfig, loadAWS func() (aws.Config, error)) (alert.Sender, error) {
	if !cfg.Enabled {
		return alert.Nop{}, nil
	}

	var senders alert.Multi
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		b, err := alert.NewTelegramBot(cfg.TelegramToken)
		if err != nil {
			return nil, err
		}
		senders = append(senders, alert.WithRetry(alert.NewTelegram(b, cfg.TelegramChatID), cfg.Attempts, alertRetryBase))
	}
	if cfg.S3Bucket != "" {
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		archive := alert.NewS3Archive(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix)
		senders = append(senders, alert.WithRetry(archive, cfg.Attempts, alertRetryBase))
	}

	return senders, nil
}
