package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dkoroteev/socialnet/pkg/hash"
	"github.com/dkoroteev/socialnet/pkg/tokens"
)

// Client talks to the session service on behalf of an edge service. Every
// call authenticates with a freshly minted inter-service token; the
// access-refresh call additionally carries the keyed possession proof.
type Client struct {
	baseURL     string
	serviceName string
	codec       *tokens.Codec
	proofKey    []byte
	httpClient  *http.Client
}

func New(sessionServiceURL, serviceName string, codec *tokens.Codec, proofKey []byte) *Client {
	return &Client{
		baseURL:     sessionServiceURL,
		serviceName: serviceName,
		codec:       codec,
		proofKey:    proofKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
}

type activeResponse struct {
	Active bool `json:"active"`
}

// RefreshAccessToken exchanges a near-expiry or expired access token for a
// fresh one through the narrow proof-of-possession path.
func (c *Client) RefreshAccessToken(ctx context.Context, accessToken string) (string, error) {
	body, _ := json.Marshal(map[string]string{"access_token": accessToken})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token/refresh", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-Proof", hash.Proof(c.proofKey, accessToken))
	if err := c.authorize(req); err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refresh failed with status: %d", resp.StatusCode)
	}

	var result accessTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return result.AccessToken, nil
}

// IsSessionActive asks whether the session behind the access token is still
// honored.
func (c *Client) IsSessionActive(ctx context.Context, accessToken string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/session/active", nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Access-Token", accessToken)
	if err := c.authorize(req); err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("active check failed with status: %d", resp.StatusCode)
	}

	var result activeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return result.Active, nil
}

// Deactivate logs the session out by access token.
func (c *Client) Deactivate(ctx context.Context, accessToken string) error {
	body, _ := json.Marshal(map[string]string{"access_token": accessToken})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session/deactivate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deactivate failed with status: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) error {
	svcToken, err := c.codec.IssueService(c.serviceName, time.Minute)
	if err != nil {
		return fmt.Errorf("mint service token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+svcToken)
	return nil
}
