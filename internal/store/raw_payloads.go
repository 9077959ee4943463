package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lox/weatherlanding/internal/models"
)

// payloadHash is the archive key for body.
func payloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// SaveRawPayload archives raw. A body identical to one already archived is
// skipped.
func (s *Store) SaveRawPayload(ctx context.Context, runID string, raw models.RawResponse) error {
	compressed, err := gzipBytes(raw.Body)
	if err != nil {
		return errors.Wrap(err, "compress payload")
	}

	fetchedAt := raw.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	status := sql.NullInt64{Int64: int64(raw.Status), Valid: raw.Status != 0}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO raw_payloads
			(run_id, fetched_at, source, url, http_status, payload_compressed, payload_hash, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(payload_hash) DO NOTHING
	`, nullString(runID), fetchedAt.UTC(), string(raw.Source), nullString(raw.URL), status,
		compressed, payloadHash(raw.Body))
	return errors.Wrap(err, "insert raw payload")
}

// RawPayloadStats sizes the archive. Sizes are compressed bytes.
type RawPayloadStats struct {
	TotalCount     int
	TotalSizeBytes int64
	CountBySource  map[string]int
	SizeBySource   map[string]int64
}

// GetRawPayloadStats reports archive size per source.
func (s *Store) GetRawPayloadStats(ctx context.Context) (*RawPayloadStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*), COALESCE(SUM(LENGTH(payload_compressed)), 0)
		FROM raw_payloads
		GROUP BY source
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &RawPayloadStats{
		CountBySource: map[string]int{},
		SizeBySource:  map[string]int64{},
	}
	for rows.Next() {
		var (
			source string
			count  int
			size   int64
		)
		if err := rows.Scan(&source, &count, &size); err != nil {
			return nil, err
		}
		stats.CountBySource[source] = count
		stats.SizeBySource[source] = size
		stats.TotalCount += count
		stats.TotalSizeBytes += size
	}
	return stats, rows.Err()
}

// CleanupOldRawPayloads deletes payloads fetched more than retentionDays ago
// and returns how many went. A retentionDays of zero or less deletes nothing.
func (s *Store) CleanupOldRawPayloads(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM raw_payloads
		WHERE SUBSTR(fetched_at, 1, 19) < datetime('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, errors.Wrap(err, "delete old raw payloads")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("pruned raw payloads", zap.Int64("deleted", n), zap.Int("retention_days", retentionDays))
	}
	return n, nil
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(b); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
