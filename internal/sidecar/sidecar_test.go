package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newEmulatorServer(t *testing.T, cfg EmulatorConfig) (*Emulator, *httptest.Server) {
	t.Helper()
	emu := NewEmulator(cfg)
	srv := httptest.NewServer(emu.Handler())
	t.Cleanup(srv.Close)
	return emu, srv
}

func TestDefaultBucket(t *testing.T) {
	emu, srv := newEmulatorServer(t, EmulatorConfig{BucketID: "replit-objstore-123"})
	client := NewClient(srv.URL+"/", srv.Client())

	id, err := client.DefaultBucket(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "replit-objstore-123", id)
	assert.Equal(t, srv.URL, client.BaseURL())

	emu.SetBucketID("")
	_, err = client.DefaultBucket(context.Background())
	assert.ErrorIs(t, err, ErrNoDefaultBucket)
}

func TestDefaultBucketEmptyObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultBucketPath, r.URL.Path)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).DefaultBucket(context.Background())
	assert.ErrorIs(t, err, ErrNoDefaultBucket)
	assert.Equal(t, "no default bucket was specified, it may need to be configured in .replit", err.Error())
}

func TestDefaultBucketHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).DefaultBucket(context.Background())
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusInternalServerError, reqErr.StatusCode)
	assert.Equal(t, "sidecar returned status 500", err.Error())
}

func TestDefaultBucketTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewClient(addr, nil).DefaultBucket(context.Background())
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Zero(t, reqErr.StatusCode)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestDefaultBucketMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).DefaultBucket(context.Background())
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusOK, reqErr.StatusCode)
}

func TestDefaultBucketContextCanceled(t *testing.T) {
	_, srv := newEmulatorServer(t, EmulatorConfig{BucketID: "b"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(srv.URL, nil).DefaultBucket(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExternalAccountConfig(t *testing.T) {
	cfg := ExternalAccountConfig("")
	assert.Equal(t, "replit", cfg.Audience)
	assert.Equal(t, "access_token", cfg.SubjectTokenType)
	assert.Equal(t, "http://127.0.0.1:1106/token", cfg.TokenURL)
	require.NotNil(t, cfg.CredentialSource)
	assert.Equal(t, "http://127.0.0.1:1106/credential", cfg.CredentialSource.URL)
	assert.Equal(t, "json", cfg.CredentialSource.Format.Type)
	assert.Equal(t, "access_token", cfg.CredentialSource.Format.SubjectTokenFieldName)

	custom := ExternalAccountConfig("http://localhost:9000/")
	assert.Equal(t, "http://localhost:9000/token", custom.TokenURL)
}

func TestTokenSourceExchangesWithEmulator(t *testing.T) {
	emu, srv := newEmulatorServer(t, EmulatorConfig{AccessToken: "subject-token", TokenLifetime: 10 * time.Minute})

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, srv.Client())
	ts, err := TokenSource(ctx, srv.URL)
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok.AccessToken, "emulated-"))
	assert.True(t, emu.ValidToken(tok.AccessToken))
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), tok.Expiry, time.Minute)

	// Cached until expiry.
	again, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, again.AccessToken)
}

func TestTokenEndpointRejectsBadRequests(t *testing.T) {
	emu, srv := newEmulatorServer(t, EmulatorConfig{AccessToken: "good"})

	tests := []struct {
		name     string
		form     url.Values
		wantCode string
	}{
		{"wrong grant", url.Values{"grant_type": {"password"}, "subject_token": {"good"}}, "unsupported_grant_type"},
		{"wrong audience", url.Values{"grant_type": {GrantTypeTokenExchange}, "audience": {"other"}, "subject_token": {"good"}}, "invalid_target"},
		{"bad subject", url.Values{"grant_type": {GrantTypeTokenExchange}, "subject_token": {"bad"}}, "invalid_grant"},
		{"missing subject", url.Values{"grant_type": {GrantTypeTokenExchange}}, "invalid_grant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.PostForm(srv.URL+TokenPath, tt.form)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body tokenError
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, body.Error)
		})
	}
	assert.False(t, emu.ValidToken("good"))
}

func TestTokenEndpointDropsExpiredTokens(t *testing.T) {
	emu, srv := newEmulatorServer(t, EmulatorConfig{AccessToken: "good", TokenLifetime: 20 * time.Millisecond})

	exchange := func() string {
		t.Helper()
		resp, err := http.PostForm(srv.URL+TokenPath, url.Values{
			"grant_type":    {GrantTypeTokenExchange},
			"subject_token": {"good"},
		})
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body TokenResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body.AccessToken
	}

	first := exchange()
	time.Sleep(50 * time.Millisecond)
	second := exchange()

	assert.False(t, emu.ValidToken(first))
	assert.True(t, emu.ValidToken(second))
	emu.mu.RLock()
	defer emu.mu.RUnlock()
	assert.Len(t, emu.issued, 1)
}

func TestEmulatorHealthAndMetrics(t *testing.T) {
	_, srv := newEmulatorServer(t, EmulatorConfig{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health HealthBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health.Status)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEmulatorGeneratesAccessToken(t *testing.T) {
	emu := NewEmulator(EmulatorConfig{})
	assert.NotEmpty(t, emu.AccessToken())
	assert.NotEqual(t, emu.AccessToken(), NewEmulator(EmulatorConfig{}).AccessToken())
}
