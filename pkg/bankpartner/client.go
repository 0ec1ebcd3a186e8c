/**
 * @description
 * This package provides a client for interacting with the refund settlement
 * partner bank's API. It encapsulates the logic for making authenticated HTTP
 * requests to the partner's endpoints, handling request body construction,
 * and parsing responses. The refund transfer workflow uses it to submit
 * approved transfers and to poll acknowledgment status.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package bankpartner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the partner bank API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new partner bank API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SubmitTransferRequest represents the payload to enroll a refund transfer
// with the partner bank.
type SubmitTransferRequest struct {
	TransferID  string `json:"transfer_id"`
	ReturnID    int64  `json:"return_id"`
	Amount      int64  `json:"amount"` // in cents
	Fee         int64  `json:"fee"`    // in cents
	PartnerBank string `json:"partner_bank"`
}

// SubmitTransferResponse is the partner's acknowledgment of a submission.
type SubmitTransferResponse struct {
	PartnerReference string `json:"partner_reference"`
	Status           string `json:"status"`
	ExpectedDate     string `json:"expected_date,omitempty"`
}

// StatusResponse reports the partner-side state of a submitted transfer.
type StatusResponse struct {
	PartnerReference string `json:"partner_reference"`
	Status           string `json:"status"`
	IRSAcknowledged  bool   `json:"irs_acknowledged"`
}

// ErrorResponse represents an error from the partner bank API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("partner bank api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown partner bank api error"
}

// SubmitRefundTransfer enrolls an approved refund transfer with the partner
// bank's settlement program.
func (c *Client) SubmitRefundTransfer(ctx context.Context, payload SubmitTransferRequest) (*SubmitTransferResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/refund-transfers", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create submit request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-partner-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute submit request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read submit response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=bankpartner_client op=submit_transfer status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=bankpartner_client op=submit_transfer status=%d title=%q detail=%q", resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var successResp SubmitTransferResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode success response: %w", err)
	}

	return &successResp, nil
}

// GetTransferStatus fetches the partner-side status of a submitted transfer.
func (c *Client) GetTransferStatus(ctx context.Context, transferID string) (*StatusResponse, error) {
	url := c.BaseURL + "/api/v1/refund-transfers/" + transferID

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-partner-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute status request: %w", err)
	}
	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=bankpartner_client op=get_status transfer_id=%s status=%d msg=\"non-2xx response (unparsable error body)\"", transferID, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=bankpartner_client op=get_status transfer_id=%s status=%d title=%q detail=%q", transferID, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var statusResp StatusResponse
	if err := json.Unmarshal(bodyBytes, &statusResp); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	return &statusResp, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

func firstErrorDetail(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Detail
}
