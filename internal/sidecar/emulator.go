package sidecar

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/replit/object-storage-go/internal/metrics"
)

// RFC 8693 identifiers used by the token endpoint.
const (
	GrantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	TokenTypeAccessToken   = "urn:ietf:params:oauth:token-type:access_token"
)

// EmulatorConfig configures an Emulator.
type EmulatorConfig struct {
	// BucketID is served as the default bucket. Empty means "not configured".
	BucketID string
	// AccessToken is the subject token served by the credential endpoint and
	// required by the token endpoint. Generated when empty.
	AccessToken string
	// TokenLifetime is the lifetime of exchanged tokens. Defaults to one hour.
	TokenLifetime time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Emulator serves the sidecar endpoints the client depends on, so the
// library and CLI can run without a Repl.
type Emulator struct {
	router     chi.Router
	api        huma.API
	logger     *slog.Logger
	lifetime   time.Duration
	httpServer *http.Server

	mu          sync.RWMutex
	bucketID    string
	accessToken string
	issued      map[string]time.Time
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// DefaultBucketOutput is the Huma output struct for the default bucket endpoint.
type DefaultBucketOutput struct {
	Body DefaultBucketResponse
}

// CredentialBody is the JSON body returned by the credential endpoint.
type CredentialBody struct {
	AccessToken string `json:"access_token" doc:"Subject token for the token exchange"`
}

// CredentialOutput is the Huma output struct for the credential endpoint.
type CredentialOutput struct {
	Body CredentialBody
}

// TokenResponse is the RFC 8693 token exchange response.
type TokenResponse struct {
	AccessToken     string `json:"access_token"`
	IssuedTokenType string `json:"issued_token_type"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int    `json:"expires_in"`
}

// tokenError is the RFC 6749 error response.
type tokenError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// NewEmulator creates an Emulator and wires its routes on a Chi router with
// a Huma API.
func NewEmulator(cfg EmulatorConfig) *Emulator {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("Replit Sidecar Emulator", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	e := &Emulator{
		router:      router,
		api:         api,
		logger:      cfg.Logger,
		lifetime:    cfg.TokenLifetime,
		bucketID:    cfg.BucketID,
		accessToken: cfg.AccessToken,
		issued:      make(map[string]time.Time),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.lifetime <= 0 {
		e.lifetime = time.Hour
	}
	if e.accessToken == "" {
		e.accessToken = uuid.NewString()
	}

	e.registerRoutes()
	return e
}

// Handler returns the emulator's HTTP handler, instrumented with metrics.
func (e *Emulator) Handler() http.Handler {
	return metricsMiddleware(e.router)
}

// ListenAndServe starts serving on addr.
func (e *Emulator) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	e.mu.Lock()
	e.httpServer = srv
	e.mu.Unlock()
	e.logger.Info("sidecar emulator listening", "addr", addr, "bucket", e.BucketID())
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (e *Emulator) Shutdown(ctx context.Context) error {
	e.mu.RLock()
	srv := e.httpServer
	e.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// SetBucketID changes the default bucket. An empty id makes the default
// bucket endpoint report that none is configured.
func (e *Emulator) SetBucketID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bucketID = id
}

// BucketID returns the configured default bucket.
func (e *Emulator) BucketID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bucketID
}

// AccessToken returns the subject token served by the credential endpoint.
func (e *Emulator) AccessToken() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.accessToken
}

// ValidToken reports whether token was issued by the token endpoint and has
// not expired.
func (e *Emulator) ValidToken(token string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	expiry, ok := e.issued[token]
	return ok && time.Now().Before(expiry)
}

func (e *Emulator) registerRoutes() {
	huma.Register(e.api, huma.Operation{
		OperationID: "get-default-bucket",
		Method:      http.MethodGet,
		Path:        DefaultBucketPath,
		Summary:     "Default bucket",
		Description: "Returns the identifier of the default bucket, if one is configured.",
		Tags:        []string{"Object Storage"},
	}, func(ctx context.Context, input *struct{}) (*DefaultBucketOutput, error) {
		return &DefaultBucketOutput{Body: DefaultBucketResponse{BucketID: e.BucketID()}}, nil
	})

	huma.Register(e.api, huma.Operation{
		OperationID: "get-credential",
		Method:      http.MethodGet,
		Path:        CredentialPath,
		Summary:     "Subject credential",
		Description: "Returns the subject token used in the token exchange.",
		Tags:        []string{"Credentials"},
	}, func(ctx context.Context, input *struct{}) (*CredentialOutput, error) {
		return &CredentialOutput{Body: CredentialBody{AccessToken: e.AccessToken()}}, nil
	})

	huma.Register(e.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the emulator.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	// The token endpoint takes a form body, so it is served by Chi directly.
	e.router.Post(TokenPath, e.exchangeToken)

	e.router.Handle("/metrics", promhttp.Handler())
}

// exchangeToken implements the subset of RFC 8693 used by the external
// account credential flow.
func (e *Emulator) exchangeToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	if r.PostForm.Get("grant_type") != GrantTypeTokenExchange {
		writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be "+GrantTypeTokenExchange)
		return
	}
	if aud := r.PostForm.Get("audience"); aud != "" && aud != Audience {
		writeTokenError(w, http.StatusBadRequest, "invalid_target", "unknown audience "+aud)
		return
	}
	subject := r.PostForm.Get("subject_token")
	if subject == "" || subject != e.AccessToken() {
		e.logger.Debug("rejected token exchange", "reason", "subject token mismatch")
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "subject token is not valid")
		return
	}

	token := "emulated-" + uuid.NewString()
	now := time.Now()
	e.mu.Lock()
	for t, expiry := range e.issued {
		if !now.Before(expiry) {
			delete(e.issued, t)
		}
	}
	e.issued[token] = now.Add(e.lifetime)
	e.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(TokenResponse{
		AccessToken:     token,
		IssuedTokenType: TokenTypeAccessToken,
		TokenType:       "Bearer",
		ExpiresIn:       int(e.lifetime.Seconds()),
	})
}

func writeTokenError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(tokenError{Error: code, ErrorDescription: description})
}

// responseRecorder wraps http.ResponseWriter to capture the HTTP status code
// and the number of bytes written. This is used by the metrics middleware.
type responseRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	wroteHeader  bool
}

// WriteHeader captures the status code and delegates to the wrapped ResponseWriter.
func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.wroteHeader {
		rr.statusCode = code
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

// Write captures the number of bytes written and delegates to the wrapped ResponseWriter.
func (rr *responseRecorder) Write(b []byte) (int, error) {
	if !rr.wroteHeader {
		rr.statusCode = http.StatusOK
		rr.wroteHeader = true
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytesWritten += n
	return n, err
}

// metricsMiddleware records request count, duration and response size.
// The /metrics endpoint is excluded from self-instrumentation.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &responseRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		path := metrics.NormalizePath(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		if rec.bytesWritten > 0 {
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rec.bytesWritten))
		}
	})
}
