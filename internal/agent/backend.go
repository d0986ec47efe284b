package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Backend holds the connection settings shared by all protocol
// variants. Read-only after construction.
type Backend struct {
	// Account is the backend account identifier, or a full host name
	// when it already contains a dot.
	Account    string
	OAuthToken string

	Database  string
	Schema    string
	Warehouse string

	// AgentService names the agent-run service for analyst mode.
	AgentService string

	// SearchService names the search service for search mode.
	SearchService string

	// SemanticModel is the semantic model file passed to agent runs.
	SemanticModel string

	// HTTPClient overrides the transport; nil uses http.DefaultClient.
	HTTPClient *http.Client
}

func (b *Backend) host() string {
	if strings.Contains(b.Account, ".") {
		return b.Account
	}
	return b.Account + ".snowflakecomputing.com"
}

func (b *Backend) client() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}

// requestBuilder constructs authenticated backend requests. Validated
// at construction so every variant fails fast on missing credentials
// instead of emitting half-built URLs.
type requestBuilder struct {
	base  string
	token string
}

func newRequestBuilder(b *Backend) (*requestBuilder, error) {
	if b.Account == "" {
		return nil, errors.New("backend account is required")
	}
	if b.OAuthToken == "" {
		return nil, errors.New("backend OAuth token is required")
	}
	base := "https://" + b.host()
	if strings.HasPrefix(b.Account, "http://") || strings.HasPrefix(b.Account, "https://") {
		base = strings.TrimSuffix(b.Account, "/")
	}
	return &requestBuilder{base: base, token: b.OAuthToken}, nil
}

func (rb *requestBuilder) post(ctx context.Context, path string, payload any, accept string) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rb.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Snowflake Token=%q", rb.token))
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return req, nil
}
