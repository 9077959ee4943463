// Package sink writes records as CSV objects into named containers on an
// object store (S3 buckets, GCS buckets, FTP directories or memory).
package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lox/weatherlanding/internal/failure"
	"github.com/lox/weatherlanding/internal/metrics"
	"github.com/lox/weatherlanding/internal/models"
)

// ObjectStore is the minimal surface the loader needs from a backend.
// CreateContainer must treat "already exists" as success.
type ObjectStore interface {
	ListContainers(ctx context.Context) ([]string, error)
	CreateContainer(ctx context.Context, name string) error
	PutObject(ctx context.Context, container, key string, body []byte) error
	GetObject(ctx context.Context, container, key string) ([]byte, error)
}

// Loader serializes records and uploads them.
type Loader struct {
	store ObjectStore
	log   *zap.Logger
}

func NewLoader(store ObjectStore, log *zap.Logger) *Loader {
	return &Loader{store: store, log: log.Named("sink")}
}

// Load writes rec to container/key, creating the container first if needed,
// and returns a human-readable confirmation. Every failure is a
// failure.ErrStorage.
func (l *Loader) Load(ctx context.Context, rec models.Record, container, key string) (string, error) {
	if err := l.EnsureContainer(ctx, container); err != nil {
		return "", err
	}

	body, err := EncodeCSV(rec)
	if err != nil {
		return "", failure.Mark(err, failure.ErrStorage, "encode csv")
	}

	if err := l.store.PutObject(ctx, container, key, body); err != nil {
		return "", failure.Mark(err, failure.ErrStorage, fmt.Sprintf("put %s/%s", container, key))
	}

	metrics.ObjectsWritten.WithLabelValues(container).Inc()
	metrics.ObjectBytes.WithLabelValues(container).Add(float64(len(body)))
	l.log.Info("object written",
		zap.String("container", container),
		zap.String("key", key),
		zap.Int("bytes", len(body)),
	)

	return Confirmation(container, key), nil
}

// EnsureContainer creates container unless it is already listed.
func (l *Loader) EnsureContainer(ctx context.Context, container string) error {
	names, err := l.store.ListContainers(ctx)
	if err != nil {
		return failure.Mark(err, failure.ErrStorage, "list containers")
	}
	for _, n := range names {
		if n == container {
			l.log.Debug("container exists", zap.String("container", container))
			return nil
		}
	}

	l.log.Info("creating container", zap.String("container", container))
	if err := l.store.CreateContainer(ctx, container); err != nil {
		return failure.Mark(err, failure.ErrStorage, fmt.Sprintf("create container %s", container))
	}
	return nil
}

// EncodeCSV renders the record as a header line plus one data row.
func EncodeCSV(rec models.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(rec.Header()); err != nil {
		return nil, err
	}
	if err := w.Write(rec.Row()); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Confirmation is the message reported for a successful upload, e.g.
// "weather_data_01082024160000 was successfully uploaded to weather-data-landing-bucket".
func Confirmation(container, key string) string {
	return fmt.Sprintf("%s was successfully uploaded to %s", strings.TrimSuffix(key, ".csv"), container)
}
