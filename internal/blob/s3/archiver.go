package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

// SwapArchiveStore is the slice of the swap store the archiver needs.
type SwapArchiveStore interface {
	ListTerminalBefore(ctx context.Context, before time.Time, limit int) ([]domain.Swap, error)
	Delete(ctx context.Context, ids []string) error
}

// ObjectInfo is what the archiver checks after an upload.
type ObjectInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// ObjectStore uploads archive files and confirms they landed.
type ObjectStore interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	Stat(ctx context.Context, path string) (ObjectInfo, error)
}

// SwapArchiver implements domain.Archiver: terminal swaps older than the
// cutoff are written as JSONL to object storage, verified, and only then
// deleted from the primary store. Every batch is recorded in the audit log.
type SwapArchiver struct {
	objects   ObjectStore
	swaps     SwapArchiveStore
	audit     domain.AuditStore
	batchSize int
}

var _ domain.Archiver = (*SwapArchiver)(nil)

// NewSwapArchiver creates a SwapArchiver.
func NewSwapArchiver(objects ObjectStore, swaps SwapArchiveStore, audit domain.AuditStore, batchSize int) *SwapArchiver {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &SwapArchiver{objects: objects, swaps: swaps, audit: audit, batchSize: batchSize}
}

// ArchiveSwaps archives every terminal swap completed before the cutoff and
// returns how many were moved.
func (a *SwapArchiver) ArchiveSwaps(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for batch := 0; ; batch++ {
		swaps, err := a.swaps.ListTerminalBefore(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive swaps query: %w", err)
		}
		if len(swaps) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(swaps)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive swaps marshal: %w", err)
		}
		path := archivePath("swaps", before, batch)
		if err := a.objects.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive swaps upload: %w", err)
		}
		info, err := a.objects.Stat(ctx, path)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive swaps verify: %w", err)
		}
		if info.Size != int64(len(buf)) {
			return total, fmt.Errorf("s3blob: archive swaps verify %s: size %d, wrote %d", path, info.Size, len(buf))
		}

		ids := make([]string, len(swaps))
		for i, s := range swaps {
			ids[i] = s.ID
		}
		if err := a.swaps.Delete(ctx, ids); err != nil {
			return total, fmt.Errorf("s3blob: archive swaps delete: %w", err)
		}
		total += int64(len(swaps))

		if err := a.audit.Log(ctx, "archive.swaps", map[string]any{
			"path":   path,
			"count":  len(swaps),
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive swaps audit log: %w", err)
		}
		if len(swaps) < a.batchSize {
			return total, nil
		}
	}
}

// archivePath builds the key of one archive batch, partitioned by the month
// of the cutoff:
//
//	archive/swaps/2026-10/20261019T030000Z-0000.jsonl
func archivePath(kind string, before time.Time, batch int) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s-%04d.jsonl",
		kind, before.Format("2006-01"), before.Format("20060102T150405Z"), batch)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
