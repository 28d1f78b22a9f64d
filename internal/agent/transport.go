package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	syncmod "medisync/internal/modules/sync"
)

// Transport is the agent's view of the server's three sync operations.
type Transport interface {
	SubmitMetadata(ctx context.Context, req syncmod.MetadataRequest) (*syncmod.MetadataResult, error)
	SubmitBinary(ctx context.Context, sessionID string, offset int64, chunk []byte) (*syncmod.BinaryResult, error)
	RequestAck(ctx context.Context, sessionID string) (*syncmod.AckResult, error)
}

// APIError is a structured error envelope from the server.
type APIError struct {
	StatusCode     int
	Code           string
	Message        string
	ExpectedOffset int64
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// HTTPTransport speaks the server's JSON envelope protocol.
type HTTPTransport struct {
	baseURL     string
	deviceToken string
	deviceID    string
	client      *http.Client
}

func NewHTTPTransport(baseURL, deviceToken, deviceID string) *HTTPTransport {
	return &HTTPTransport{
		baseURL:     baseURL,
		deviceToken: deviceToken,
		deviceID:    deviceID,
		client:      &http.Client{Timeout: 60 * time.Second},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details struct {
			ExpectedOffset int64 `json:"expected_offset"`
		} `json:"details"`
	} `json:"error"`
}

func (t *HTTPTransport) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if t.deviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.deviceToken)
	}
	if t.deviceID != "" {
		req.Header.Set("X-Device-ID", t.deviceID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}

	if !env.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.ExpectedOffset = env.Error.Details.ExpectedOffset
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return nil
}

func (t *HTTPTransport) SubmitMetadata(ctx context.Context, req syncmod.MetadataRequest) (*syncmod.MetadataResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var result syncmod.MetadataResult
	if err := t.do(ctx, http.MethodPost, "/api/v1/sync/metadata", "application/json", bytes.NewReader(body), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *HTTPTransport) SubmitBinary(ctx context.Context, sessionID string, offset int64, chunk []byte) (*syncmod.BinaryResult, error) {
	path := fmt.Sprintf("/api/v1/sync/sessions/%s/binary?offset=%d", sessionID, offset)
	var result syncmod.BinaryResult
	if err := t.do(ctx, http.MethodPut, path, "application/octet-stream", bytes.NewReader(chunk), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *HTTPTransport) RequestAck(ctx context.Context, sessionID string) (*syncmod.AckResult, error) {
	var result syncmod.AckResult
	if err := t.do(ctx, http.MethodPost, "/api/v1/sync/sessions/"+sessionID+"/ack", "", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
