package main

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Policy-Guru-za/chipin/internal/alert"
	"github.com/Policy-Guru-za/chipin/internal/config"
	"github.com/Policy-Guru-za/chipin/internal/kv"
	"github.com/Policy-Guru-za/chipin/internal/model"
	"github.com/Policy-Guru-za/chipin/internal/provider"
)

func noAWS() (aws.Config, error) {
	return aws.Config{}, errors.New("aws must not be loaded")
}

func TestOpenStore(t *testing.T) {
	mem, err := openStore(config.KVConfig{Backend: config.KVBackendMemory}, noAWS, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &kv.Memory{}, mem)

	path := filepath.Join(t.TempDir(), "kv.db")
	b, err := openStore(config.KVConfig{Backend: config.KVBackendBolt, BoltPath: path}, noAWS, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()
	assert.IsType(t, &kv.Bolt{}, b)

	_, err = openStore(config.KVConfig{Backend: config.KVBackendDynamoDB, DynamoTable: "t"}, noAWS, zap.NewNop())
	assert.Error(t, err)
}

func TestBuildRegistry(t *testing.T) {
	cfg := &config.Config{}
	cfg.HTTP.Timeout = 1
	cfg.PayFast.AllowedSources = []string{"197.97.145.144/28"}
	cfg.SnapScan.APIBaseURL = "https://pos.snapscan.io"
	cfg.SnapScan.APIKey = "k"

	reg, err := buildRegistry(cfg, []model.Provider{model.ProviderPayFast, model.ProviderSnapScan}, kv.NewMemory(nil), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []model.Provider{model.ProviderPayFast, model.ProviderSnapScan}, reg.Providers())

	snap, ok := reg.Get(model.ProviderSnapScan)
	require.True(t, ok)
	_, isLister := snap.(provider.Lister)
	assert.True(t, isLister)

	_, ok = reg.Get(model.ProviderOzow)
	assert.False(t, ok)
}

func TestBuildRegistry_BadSources(t *testing.T) {
	cfg := &config.Config{}
	cfg.PayFast.AllowedSources = []string{"not-an-ip"}

	_, err := buildRegistry(cfg, []model.Provider{model.ProviderPayFast}, kv.NewMemory(nil), zap.NewNop())
	assert.Error(t, err)
}

func TestBuildAlerts(t *testing.T) {
	s, err := buildAlerts(config.AlertsConfig{}, noAWS)
	require.NoError(t, err)
	assert.Equal(t, alert.Nop{}, s)

	_, err = buildAlerts(config.AlertsConfig{Enabled: true, S3Bucket: "b"}, noAWS)
	assert.Error(t, err)
}
