// Package objectstore keeps job text and generated artifacts in a NATS
// JetStream object store bucket.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	headerContentType = "Content-Type"
	contentTypeWAV    = "audio/wav"
	contentTypeJSON   = "application/json"
	contentTypeText   = "text/plain; charset=utf-8"
	contentTypeBinary = "application/octet-stream"

	descriptionFmt = "Text to speech artifacts for the %s bucket."

	errFmtBind     = "failed to bind to existing object store bucket '%s': %w"
	errFmtCreate   = "failed to create object store bucket '%s': %w"
	errFmtGet      = "failed to get object '%s' from bucket '%s': %w"
	errFmtRead     = "failed to read object '%s': %w"
	errFmtClose    = "failed to close object '%s': %w"
	errFmtPut      = "failed to put object '%s' to bucket '%s': %w"
	errFmtEmptyKey = "%w: bucket '%s'"
)

// ErrEmptyKey is returned for objects without a name.
var ErrEmptyKey = errors.New("object key cannot be empty")

// NatsObjectStore implements core.ObjectStore on a JetStream object store.
type NatsObjectStore struct {
	store  nats.ObjectStore
	bucket string
}

// New binds to bucketName, creating the bucket first if it does not exist.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf(descriptionFmt, bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf(errFmtCreate, bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf(errFmtBind, bucketName, err)
		}
	}

	return &NatsObjectStore{store: store, bucket: bucketName}, nil
}

// Bucket returns the bucket name.
func (n *NatsObjectStore) Bucket() string {
	return n.bucket
}

// Download retrieves an object.
func (n *NatsObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf(errFmtGet, key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf(errFmtRead, key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf(errFmtClose, key, closeErr)
	}

	return data, nil
}

// Upload stores data under key, tagging it with a content type derived from
// the key's extension.
func (n *NatsObjectStore) Upload(_ context.Context, key string, data []byte) error {
	if key == "" {
		return fmt.Errorf(errFmtEmptyKey, ErrEmptyKey, n.bucket)
	}

	headers := nats.Header{}
	headers.Set(headerContentType, ContentType(key))

	_, err := n.store.Put(&nats.ObjectMeta{Name: key, Headers: headers}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf(errFmtPut, key, n.bucket, err)
	}

	return nil
}

// ContentType maps an object key to the MIME type recorded with it.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".wav":
		return contentTypeWAV
	case ".json":
		return contentTypeJSON
	case ".txt":
		return contentTypeText
	default:
		return contentTypeBinary
	}
}
