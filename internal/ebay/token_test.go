package ebay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/athebyme/ebay-publisher/internal/domain/models"
	pkgerrors "github.com/athebyme/ebay-publisher/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCredStore хранилище токенов в памяти для тестов
type memCredStore struct {
	mu     sync.Mutex
	tokens map[string]*models.OAuthToken
}

func newMemCredStore() *memCredStore {
	return &memCredStore{tokens: make(map[string]*models.OAuthToken)}
}

func (s *memCredStore) Save(ctx context.Context, provider string, token *models.OAuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.tokens[provider] = &copied
	return nil
}

func (s *memCredStore) Load(ctx context.Context, provider string) (*models.OAuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[provider]
	if !ok {
		return nil, pkgerrors.ErrTokenNotFound
	}
	copied := *token
	return &copied, nil
}

func (s *memCredStore) Delete(ctx context.Context, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[provider]; !ok {
		return pkgerrors.ErrTokenNotFound
	}
	delete(s.tokens, provider)
	return nil
}

func newTestTokenManager(t *testing.T, server *httptest.Server, store *memCredStore) *TokenManager {
	t.Helper()
	return NewTokenManager(TokenConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://example.com/callback",
		Scopes:       "https://api.ebay.com/oauth/api_scope/sell.inventory",
		AuthBaseURL:  server.URL,
		TokenURL:     server.URL + "/identity/v1/oauth2/token",
	}, store, testLogger(t))
}

func TestValidTokenReturnsFreshTokenWithoutRefresh(t *testing.T) {
	var tokenCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := newMemCredStore()
	require.NoError(t, store.Save(context.Background(), TokenProviderName, &models.OAuthToken{
		AccessToken:  "fresh-token",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	manager := newTestTokenManager(t, server, store)
	token, err := manager.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Zero(t, atomic.LoadInt32(&tokenCalls))
}

func TestValidTokenWithoutStoredTokenIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	manager := newTestTokenManager(t, server, newMemCredStore())
	_, err := manager.ValidToken(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuth(err))
}

func TestConcurrentRefreshesCollapseIntoOne(t *testing.T) {
	var tokenCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"renewed","token_type":"Bearer","expires_in":7200,"refresh_token":"refresh-2"}`))
	}))
	defer server.Close()

	store := newMemCredStore()
	require.NoError(t, store.Save(context.Background(), TokenProviderName, &models.OAuthToken{
		AccessToken:  "expired",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}))

	manager := newTestTokenManager(t, server, store)

	const callers = 5
	results := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = manager.ValidToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "renewed", results[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))

	stored, err := store.Load(context.Background(), TokenProviderName)
	require.NoError(t, err)
	assert.Equal(t, "renewed", stored.AccessToken)
	assert.Equal(t, "refresh-2", stored.RefreshToken)
}

func TestRefreshKeepsPreviousRefreshTokenWhenOmitted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"renewed","token_type":"Bearer","expires_in":7200}`))
	}))
	defer server.Close()

	store := newMemCredStore()
	require.NoError(t, store.Save(context.Background(), TokenProviderName, &models.OAuthToken{
		AccessToken:  "expired",
		RefreshToken: "keep-me",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}))

	manager := newTestTokenManager(t, server, store)
	_, err := manager.ForceRefresh(context.Background())
	require.NoError(t, err)

	stored, err := store.Load(context.Background(), TokenProviderName)
	require.NoError(t, err)
	assert.Equal(t, "keep-me", stored.RefreshToken)
}

func TestRefreshFailureKeepsStoredToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	store := newMemCredStore()
	require.NoError(t, store.Save(context.Background(), TokenProviderName, &models.OAuthToken{
		AccessToken:  "expired",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}))

	manager := newTestTokenManager(t, server, store)
	_, err := manager.ValidToken(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuth(err))

	// строка хранилища не тронута
	_, err = store.Load(context.Background(), TokenProviderName)
	require.NoError(t, err)
}

func TestConnectionStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	store := newMemCredStore()
	manager := newTestTokenManager(t, server, store)

	status, err := manager.ConnectionStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Connected)

	require.NoError(t, store.Save(context.Background(), TokenProviderName, &models.OAuthToken{
		AccessToken: "token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	status, err = manager.ConnectionStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Greater(t, status.ExpiresIn, int64(0))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	store := newMemCredStore()
	require.NoError(t, store.Save(context.Background(), TokenProviderName, &models.OAuthToken{
		AccessToken: "token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	manager := newTestTokenManager(t, server, store)
	require.NoError(t, manager.Disconnect(context.Background()))

	// повторное отключение не ошибка
	require.NoError(t, manager.Disconnect(context.Background()))

	status, err := manager.ConnectionStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Connected)
}

func TestAuthorizationURLContainsState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	manager := newTestTokenManager(t, server, newMemCredStore())
	url := manager.AuthorizationURL("signed-state")
	assert.Contains(t, url, "/oauth2/authorize")
	assert.Contains(t, url, "state=signed-state")
	assert.Contains(t, url, "client_id=client-id")
}
