// Package dedup looks up reusable parse results of identical uploads.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docpipe/internal/domain"
	"docpipe/internal/port"
)

// Hit carries the artifacts of a prior identical file.
type Hit struct {
	SourceFileID int64
	PDFHash      string
	ParseHash    string
	DocxHash     string
	PageCount    int
}

// Update returns the artifact update that copies the hit onto another file.
func (h *Hit) Update() domain.ArtifactUpdate {
	upd := domain.ArtifactUpdate{
		PDFHash:   &h.PDFHash,
		ParseHash: &h.ParseHash,
		PageCount: &h.PageCount,
	}
	if h.DocxHash != "" {
		upd.DocxHash = &h.DocxHash
	}
	return upd
}

// StatFunc returns the stored modification time of a blob.
type StatFunc func(ctx context.Context, hash string, ns domain.Namespace) (*port.ObjectInfo, error)

// Finder answers dedup lookups. It never writes.
type Finder struct {
	files  port.FileRepository
	stat   StatFunc
	window time.Duration
	now    func() time.Time
}

// NewFinder creates a Finder with the given freshness window.
func NewFinder(files port.FileRepository, stat StatFunc, window time.Duration) *Finder {
	return &Finder{files: files, stat: stat, window: window, now: time.Now}
}

// Lookup returns the artifacts of a non-deleted file with the same content
// hash whose parse artifact is younger than the window. A miss is (nil, nil).
func (f *Finder) Lookup(ctx context.Context, fileID int64, contentHash string) (*Hit, error) {
	if f.window <= 0 {
		return nil, nil
	}
	prior, err := f.files.FindByHash(ctx, contentHash, fileID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("dedup.Lookup: %w", err)
	}
	if prior.ParseHash == "" || prior.PDFHash == "" {
		return nil, nil
	}

	info, err := f.stat(ctx, prior.ParseHash, domain.NSParse)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("dedup.Lookup stat: %w", err)
	}
	if f.now().Sub(info.ModTime) > f.window {
		return nil, nil
	}

	return &Hit{
		SourceFileID: prior.ID,
		PDFHash:      prior.PDFHash,
		ParseHash:    prior.ParseHash,
		DocxHash:     prior.DocxHash,
		PageCount:    prior.PageCount,
	}, nil
}
