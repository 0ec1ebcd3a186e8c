/**
 * @description
 * This package provides a client for communicating with the iam-service.
 * It encapsulates the logic for making API calls to check staff permissions,
 * used by the refund transfer workflow to enforce role-based access
 * (preparer submit, supervisor approve).
 */
package iamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the iam service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new iam service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CheckPermissionRequest defines the request payload for a permission check.
type CheckPermissionRequest struct {
	UserID     string `json:"user_id"`
	UserType   string `json:"user_type"`
	Permission string `json:"permission"`
}

// CheckPermissionResponse defines the response from a permission check.
type CheckPermissionResponse struct {
	Allowed bool   `json:"allowed"`
	Role    string `json:"role,omitempty"`
}

// HasPermission calls the iam-service to check whether a user holds the given
// permission (e.g. "preparer:submit_refund_transfer").
func (c *Client) HasPermission(ctx context.Context, userID, userType, permission string) (bool, error) {
	if c.baseURL == "" {
		return false, fmt.Errorf("iam service base url is empty")
	}

	url := fmt.Sprintf("%s/internal/permissions/check", c.baseURL)

	payload := CheckPermissionRequest{
		UserID:     userID,
		UserType:   userType,
		Permission: permission,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to execute request to iam service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("iam service returned error status %d", resp.StatusCode)
	}

	var response CheckPermissionResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}

	return response.Allowed, nil
}
