// Package sidecar talks to the local Replit sidecar, which knows the default
// bucket of the current Repl and mints the credentials used to reach it. It
// also provides an emulator of the sidecar for tests and offline development.
package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultURL is the address the sidecar listens on inside a Repl.
const DefaultURL = "http://127.0.0.1:1106"

// Sidecar endpoint paths.
const (
	DefaultBucketPath = "/object-storage/default-bucket"
	CredentialPath    = "/credential"
	TokenPath         = "/token"
)

// ErrNoDefaultBucket is returned when the sidecar answers but has no default
// bucket configured.
var ErrNoDefaultBucket = errors.New("no default bucket was specified, it may need to be configured in .replit")

// RequestError reports a failed default bucket request: either a transport
// failure or a non-2xx response. Callers supply the context of the message.
type RequestError struct {
	// StatusCode is the HTTP status, or 0 if no response was received.
	StatusCode int
	// Err is the transport error, if any.
	Err error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("sidecar returned status %d", e.StatusCode)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// DefaultBucketResponse is the body of the default bucket endpoint.
type DefaultBucketResponse struct {
	BucketID string `json:"bucketId,omitempty" doc:"Identifier of the default bucket"`
}

// Client queries the sidecar. The zero value is not usable; use NewClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Client for the sidecar at baseURL. An empty baseURL
// selects DefaultURL and a nil httpClient selects http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// BaseURL returns the sidecar address without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// DefaultBucket fetches the identifier of the default bucket. It returns a
// *RequestError if the request fails and ErrNoDefaultBucket if the sidecar
// reports no bucket.
func (c *Client) DefaultBucket(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+DefaultBucketPath, nil)
	if err != nil {
		return "", &RequestError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &RequestError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", &RequestError{StatusCode: resp.StatusCode}
	}

	var body DefaultBucketResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &RequestError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if body.BucketID == "" {
		return "", ErrNoDefaultBucket
	}
	return body.BucketID, nil
}
