package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "inference service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "inference service returned non-OK status: %s, body: %s"
	errFmtSendRequest          = "failed to send request to inference service at %s: %w"
	errFmtMarshalRequest       = "failed to marshal request: %w"
	errFmtCreateRequest        = "failed to create request: %w"
	errFmtDecodeResponse       = "failed to decode response: %w"
	errFmtReadResponse         = "failed to read response: %w"
)

// ErrorResponse is the structured error body returned by the inference services.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// httpClient is the transport shared by the synthesis and restoration clients.
type httpClient struct {
	client  *http.Client
	baseURL string
}

func newHTTPClient(baseURL string, timeout time.Duration) httpClient {
	return httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// do sends a request and returns the body of a 200 response.
func (c httpClient) do(
	ctx context.Context,
	method, path string,
	body io.Reader,
	contentType, accept string,
) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateRequest, err)
	}

	if contentType != "" {
		req.Header.Set(headerContentType, contentType)
	}

	req.Header.Set(headerAccept, accept)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFmtSendRequest, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadResponse, err)
	}

	return payload, nil
}

// postJSON marshals request, posts it and decodes the JSON response into response.
func (c httpClient) postJSON(ctx context.Context, path string, request, response any) error {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf(errFmtMarshalRequest, err)
	}

	payload, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(requestBody), contentTypeJSON, contentTypeJSON)
	if err != nil {
		return err
	}

	err = json.Unmarshal(payload, response)
	if err != nil {
		return fmt.Errorf(errFmtDecodeResponse, err)
	}

	return nil
}

func (c httpClient) getJSON(ctx context.Context, path string, response any) error {
	payload, err := c.do(ctx, http.MethodGet, path, http.NoBody, "", contentTypeJSON)
	if err != nil {
		return err
	}

	err = json.Unmarshal(payload, response)
	if err != nil {
		return fmt.Errorf(errFmtDecodeResponse, err)
	}

	return nil
}

// parseErrorResponse attempts to decode a structured JSON error from the service.
// If structured parsing fails, it falls back to returning the raw response body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode,
			resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}
