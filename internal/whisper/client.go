// Package whisper provides a client for an OpenAI-compatible Whisper
// transcription service.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/tts-studio/internal/core"
)

// Error messages.
const (
	errFailedToOpenFile        = "failed to open audio file: %w"
	errFailedToCloseFile       = "failed to close file: %v"
	errFailedToCreateFormFile  = "failed to create form file: %w"
	errFailedToCopyFileData    = "failed to copy file data: %w"
	errFailedToWriteField      = "failed to write %s field: %w"
	errFailedToCloseWriter     = "failed to close multipart writer: %w"
	errFailedToCreateRequest   = "failed to create request: %w"
	errFailedToCloseRespBody   = "failed to close response body: %v"
	errFailedToMakeRequest     = "failed to make request: %w"
	errAPIRequestFailed        = "API request failed with status %d: %s"
	errFailedToDecodeResponse  = "failed to decode response: %w"
	logFmtTranscribedSegments  = "Transcribed file: %s, %d segments found."
	apiTranscriptions          = "/v1/audio/transcriptions"
	responseFormatVerboseJSON  = "verbose_json"
	defaultTimeout             = 60 * time.Second
)

// DefaultLanguage is used when no language hint is given.
const DefaultLanguage = "English"

// HTTP headers.
const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
)

// Form field names.
const (
	formFieldFile           = "file"
	formFieldModel          = "model"
	formFieldLanguage       = "language"
	formFieldResponseFormat = "response_format"
)

// Client provides Whisper API client functionality.
type Client struct {
	httpClient *http.Client
	log        *logger.Logger
	apiKey     string
	baseURL    string
	model      string
}

// NewClient creates a new Whisper API client. apiKey may be empty for
// self-hosted services.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		log:     log,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Transcribe implements core.Transcriber.
func (c *Client) Transcribe(ctx context.Context, path, language string) (*core.Transcription, error) {
	return c.TranscribeSegments(ctx, path, language)
}

// TranscribeSegments transcribes an audio file and returns its timestamped
// segments along with the raw service response.
func (c *Client) TranscribeSegments(
	ctx context.Context,
	audioPath, language string,
) (*core.Transcription, error) {
	if language == "" {
		language = DefaultLanguage
	}

	body, contentType, err := c.buildForm(audioPath, language)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiTranscriptions, body)
	if err != nil {
		return nil, fmt.Errorf(errFailedToCreateRequest, err)
	}

	if c.apiKey != "" {
		req.Header.Set(headerAuthorization, "Bearer "+c.apiKey)
	}

	req.Header.Set(headerContentType, contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFailedToMakeRequest, err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			c.log.Warn(errFailedToCloseRespBody, closeErr)
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf(errFailedToDecodeResponse, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(errAPIRequestFailed, resp.StatusCode, string(payload))
	}

	var result core.Transcription

	err = json.Unmarshal(payload, &result)
	if err != nil {
		return nil, fmt.Errorf(errFailedToDecodeResponse, err)
	}

	err = json.Unmarshal(payload, &result.Raw)
	if err != nil {
		return nil, fmt.Errorf(errFailedToDecodeResponse, err)
	}

	c.log.Info(logFmtTranscribedSegments, audioPath, len(result.Segments))

	return &result, nil
}

func (c *Client) buildForm(audioPath, language string) (*bytes.Buffer, string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToOpenFile, err)
	}

	defer func() {
		closeErr := file.Close()
		if closeErr != nil {
			c.log.Warn(errFailedToCloseFile, closeErr)
		}
	}()

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(formFieldFile, filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToCreateFormFile, err)
	}

	_, err = io.Copy(part, file)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToCopyFileData, err)
	}

	fields := [][2]string{
		{formFieldModel, c.model},
		{formFieldResponseFormat, responseFormatVerboseJSON},
		{formFieldLanguage, language},
	}

	for _, field := range fields {
		err = writer.WriteField(field[0], field[1])
		if err != nil {
			return nil, "", fmt.Errorf(errFailedToWriteField, field[0], err)
		}
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return nil, "", fmt.Errorf(errFailedToCloseWriter, closeErr)
	}

	return &buf, writer.FormDataContentType(), nil
}
