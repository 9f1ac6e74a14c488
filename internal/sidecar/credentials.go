package sidecar

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google/externalaccount"
)

// Token exchange parameters expected by the sidecar.
const (
	Audience         = "replit"
	SubjectTokenType = "access_token"
	// SubjectTokenField is the JSON field of the credential response holding
	// the subject token.
	SubjectTokenField = "access_token"
)

// ExternalAccountConfig describes the credential exchange against the sidecar
// at baseURL: a subject token is fetched from the credential endpoint and
// exchanged for an access token at the token endpoint.
func ExternalAccountConfig(baseURL string) externalaccount.Config {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return externalaccount.Config{
		Audience:         Audience,
		SubjectTokenType: SubjectTokenType,
		TokenURL:         baseURL + TokenPath,
		CredentialSource: &externalaccount.CredentialSource{
			URL: baseURL + CredentialPath,
			Format: externalaccount.Format{
				Type:                  "json",
				SubjectTokenFieldName: SubjectTokenField,
			},
		},
	}
}

// TokenSource returns a cached token source performing the credential
// exchange. An *http.Client stored in ctx under oauth2.HTTPClient is used for
// both the credential and token requests.
func TokenSource(ctx context.Context, baseURL string) (oauth2.TokenSource, error) {
	ts, err := externalaccount.NewTokenSource(ctx, ExternalAccountConfig(baseURL))
	if err != nil {
		return nil, fmt.Errorf("creating sidecar token source: %w", err)
	}
	return ts, nil
}
