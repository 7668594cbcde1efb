package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Policy-Guru-za/chipin/internal/kv"
	"github.com/Policy-Guru-za/chipin/internal/model"
)

func TestVocabularyMap(t *testing.T) {
	v := Vocabulary{
		Success: []string{"complete", "paid"},
		Failure: []string{"failed", "cancelled"},
	}

	tests := []struct {
		raw  string
		want Status
	}{
		{raw: "COMPLETE", want: StatusCompleted},
		{raw: " paid ", want: StatusCompleted},
		{raw: "Cancelled", want: StatusFailed},
		{raw: "PENDING", want: StatusProcessing},
		{raw: "", want: StatusProcessing},
		{raw: "something-new", want: StatusProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Map(tt.raw))
		})
	}
}

type namedAdapter struct {
	Adapter
	p model.Provider
}

func (a namedAdapter) Provider() model.Provider { return a.p }

func TestRegistry(t *testing.T) {
	r := NewRegistry(namedAdapter{p: model.ProviderSnapScan}, namedAdapter{p: model.ProviderPayFast})

	_, ok := r.Get(model.ProviderOzow)
	assert.False(t, ok)

	a, ok := r.Get(model.ProviderPayFast)
	require.True(t, ok)
	assert.Equal(t, model.ProviderPayFast, a.Provider())

	assert.Equal(t, []model.Provider{model.ProviderPayFast, model.ProviderSnapScan}, r.Providers())

	var nilRegistry *Registry
	_, ok = nilRegistry.Get(model.ProviderPayFast)
	assert.False(t, ok)
}

type countingFetcher struct {
	calls  int
	expiry time.Time
	err    error
}

func (f *countingFetcher) Token(context.Context) (*oauth2.Token, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: "tok-1", Expiry: f.expiry}, nil
}

func TestTokenCache(t *testing.T) {
	now := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := kv.NewMemory(clock)
	fetcher := &countingFetcher{expiry: now.Add(time.Hour)}

	c := NewTokenCache(store, "token:ozow", fetcher, zap.NewNop())
	c.now = clock

	tok, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	tok, err = c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, 1, fetcher.calls, "second call must hit the cache")

	// Токен удаляется из кэша за минуту до реального истечения.
	now = now.Add(59*time.Minute + time.Second)
	_, err = c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
}

func TestTokenCache_Invalidate(t *testing.T) {
	now := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := kv.NewMemory(clock)
	fetcher := &countingFetcher{expiry: now.Add(time.Hour)}

	c := NewTokenCache(store, "token:ozow", fetcher, zap.NewNop())
	c.now = clock

	_, err := c.AccessToken(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(context.Background()))
	_, ok, err := store.Get(context.Background(), "token:ozow")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls, "token must be fetched again after invalidation")
}

func TestTokenCache_FetchError(t *testing.T) {
	fetcher := &countingFetcher{err: errors.New("bad credentials")}
	c := NewTokenCache(kv.NewMemory(nil), "token:ozow", fetcher, zap.NewNop())

	_, err := c.AccessToken(context.Background())
	assert.Error(t, err)
}

func TestNewHTTPClient_PassesThroughFinalResponse(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewHTTPClient(time.Second, 1, zap.NewNop())

	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(2), hits.Load(), "one retry expected")
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.example.com", NormalizeBaseURL("api.example.com/"))
	assert.Equal(t, "http://localhost:8081", NormalizeBaseURL("http://localhost:8081"))
	assert.Equal(t, "", NormalizeBaseURL(""))
}
