package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"docpipe/internal/cachebuilder"
	"docpipe/internal/domain"
	"docpipe/internal/port"
)

// ArtifactInfoSource returns HTTP validators for stored artifacts.
type ArtifactInfoSource interface {
	ArtifactInfo(ctx context.Context, ns domain.Namespace, hash string) (cachebuilder.ArtifactInfo, error)
}

// Artifact is an open artifact stream with its validators. Body is an
// io.ReadSeeker when the backend supports seeking.
type Artifact struct {
	Name        string
	ContentType string
	ETag        string
	ModTime     time.Time
	Size        int64
	Body        io.ReadCloser
}

// ArtifactService serves the stored artifacts of a file.
type ArtifactService interface {
	Open(ctx context.Context, fileID int64, kind domain.ArtifactKind) (*Artifact, error)
}

type artifactService struct {
	files port.FileRepository
	blobs BlobStore
	info  ArtifactInfoSource
}

// NewArtifactService creates a new ArtifactService implementation.
func NewArtifactService(files port.FileRepository, blobs BlobStore, info ArtifactInfoSource) ArtifactService {
	return &artifactService{files: files, blobs: blobs, info: info}
}

func (s *artifactService) Open(ctx context.Context, fileID int64, kind domain.ArtifactKind) (*Artifact, error) {
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.Deleted {
		return nil, domain.ErrFileGone
	}
	ns, hash, name, ctype := locate(f, kind)
	if ns == "" {
		return nil, fmt.Errorf("%w: unknown artifact %q", domain.ErrInvalidInput, kind)
	}
	if hash == "" {
		return nil, fmt.Errorf("%w: file %d has no %s artifact", domain.ErrNotFound, fileID, kind)
	}

	info, err := s.info.ArtifactInfo(ctx, ns, hash)
	if err != nil {
		return nil, err
	}
	body, err := s.blobs.Open(ctx, hash, ns)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Name:        name,
		ContentType: ctype,
		ETag:        info.ETag,
		ModTime:     info.ModTime,
		Size:        info.Size,
		Body:        body,
	}, nil
}

// locate maps an artifact kind onto its namespace, hash and download name.
func locate(f *domain.File, kind domain.ArtifactKind) (domain.Namespace, string, string, string) {
	base := f.Name
	if ext := domain.ExtensionOf(base); ext != "" {
		base = base[:len(base)-len(ext)-1]
	}
	switch kind {
	case domain.ArtifactOrigin:
		return domain.NSOriginal, f.ContentHash, f.Name, "application/octet-stream"
	case domain.ArtifactPDF:
		return domain.NSPDF, f.PDFHash, base + ".pdf", "application/pdf"
	case domain.ArtifactPDFInsight:
		return domain.NSParse, f.ParseHash, base + ".json", "application/json"
	case domain.ArtifactDocx:
		hash := f.DocxHash
		if hash == "" {
			hash = f.Meta.String(domain.MetaOriginDocxHash)
		}
		return domain.NSDocx, hash, base + ".docx",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case domain.ArtifactScannedPDFRestore:
		return domain.NSPDF, f.Meta.String(domain.MetaRestoredPDFHash), base + "_restored.pdf", "application/pdf"
	}
	return "", "", "", ""
}
