package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// AdminConfig configures the admin API client.
type AdminConfig struct {
	// BaseURL is the auth service base URL (e.g. "https://auth.example.com").
	BaseURL string

	// ServiceKey is the service-role bearer token authorizing admin calls.
	ServiceKey string

	// HTTPClient is optional; a default client with a 10s timeout is used
	// when nil.
	HTTPClient *http.Client
}

// AdminClient implements Provisioner against a GoTrue-style admin API
// (POST /admin/users with email_confirm).
type AdminClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// NewAdminClient creates an admin API client.
func NewAdminClient(config AdminConfig) (*AdminClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("identity base URL is required")
	}
	if strings.TrimSpace(config.ServiceKey) == "" {
		return nil, fmt.Errorf("identity service key is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &AdminClient{
		baseURL:    baseURL,
		serviceKey: config.ServiceKey,
		httpClient: httpClient,
	}, nil
}

type createUserBody struct {
	Email        string            `json:"email"`
	EmailConfirm bool              `json:"email_confirm"`
	UserMetadata map[string]string `json:"user_metadata,omitempty"`
}

type createUserResponse struct {
	ID string `json:"id"`
}

// CreateUser implements Provisioner.
func (c *AdminClient) CreateUser(ctx context.Context, req CreateUserRequest) (string, error) {
	if strings.TrimSpace(req.Email) == "" {
		return "", fmt.Errorf("%w: email is required", ErrProvisioningFailed)
	}

	body := createUserBody{
		Email:        req.Email,
		EmailConfirm: true,
	}
	if req.Name != "" {
		body.UserMetadata = map[string]string{"name": req.Name}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode create user request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/admin/users", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build create user request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.serviceKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Bound the error body so a misbehaving server can't blow up logs.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrProvisioningFailed, resp.StatusCode, string(msg))
	}

	var created createUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("%w: invalid response: %v", ErrProvisioningFailed, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: response missing user id", ErrProvisioningFailed)
	}

	return created.ID, nil
}
