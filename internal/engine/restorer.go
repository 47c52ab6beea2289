package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/book-expert/logger"
)

const (
	apiRestore = "/v1/restore"

	filePermissions = 0o600

	errFmtRestorerHealth = "restoration service health check failed: %w"
	errFmtReadInput      = "failed to read restoration input: %w"
	errFmtWriteOutput    = "failed to write restored audio: %w"
	logFmtRestorerReady  = "Restoration service at %s is healthy"
	logFmtRestoredOutput = "Restored %s -> %s"
)

// Static errors.
var (
	// ErrRestorerUnavailable means no restoration service is configured.
	ErrRestorerUnavailable = errors.New("restoration service is not configured")
	ErrEmptyRestoredAudio  = errors.New("restoration service returned empty audio")
)

// HTTPRestorer implements core.Restorer against an HTTP restoration service.
type HTTPRestorer struct {
	log     *logger.Logger
	client  httpClient
	useCUDA bool
}

// NewHTTPRestorer connects to the restoration service. An empty baseURL yields
// ErrRestorerUnavailable.
func NewHTTPRestorer(
	ctx context.Context,
	baseURL string,
	timeout time.Duration,
	useCUDA bool,
	log *logger.Logger,
) (*HTTPRestorer, error) {
	if baseURL == "" {
		return nil, ErrRestorerUnavailable
	}

	r := &HTTPRestorer{
		client:  newHTTPClient(baseURL, timeout),
		log:     log,
		useCUDA: useCUDA,
	}

	healthCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	_, err := r.client.do(healthCtx, http.MethodGet, apiHealth, http.NoBody, "", contentTypeJSON)
	if err != nil {
		return nil, fmt.Errorf(errFmtRestorerHealth, err)
	}

	log.Info(logFmtRestorerReady, baseURL)

	return r, nil
}

// Restore sends inputPath to the service and writes the result to outputPath.
func (r *HTTPRestorer) Restore(ctx context.Context, inputPath, outputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf(errFmtReadInput, err)
	}

	path := apiRestore
	if r.useCUDA {
		path += "?cuda=true"
	}

	restored, err := r.client.do(ctx, http.MethodPost, path, bytes.NewReader(data), contentTypeWAV, contentTypeWAV)
	if err != nil {
		return err
	}

	if len(restored) == 0 {
		return ErrEmptyRestoredAudio
	}

	err = os.WriteFile(outputPath, restored, filePermissions)
	if err != nil {
		return fmt.Errorf(errFmtWriteOutput, err)
	}

	r.log.Info(logFmtRestoredOutput, inputPath, outputPath)

	return nil
}
