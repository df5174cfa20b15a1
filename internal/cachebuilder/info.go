package cachebuilder

import (
	"context"
	"time"

	"docpipe/internal/domain"
)

// ArtifactInfo is the HTTP validator data of a stored artifact.
type ArtifactInfo struct {
	ETag    string
	ModTime time.Time
	Size    int64
}

// ArtifactInfo returns the ETag and mtime of (ns, hash), caching lookups in a
// bounded, expiring LRU.
func (b *Builder) ArtifactInfo(ctx context.Context, ns domain.Namespace, hash string) (ArtifactInfo, error) {
	key := string(ns) + "/" + hash
	if info, ok := b.info.Get(key); ok {
		return info, nil
	}
	st, err := b.store.Stat(ctx, hash, ns)
	if err != nil {
		return ArtifactInfo{}, err
	}
	info := ArtifactInfo{
		ETag:    `"` + hash + `"`,
		ModTime: st.ModTime.UTC(),
		Size:    st.Size,
	}
	b.info.Add(key, info)
	return info, nil
}

// ForgetArtifact drops a cached ArtifactInfo.
func (b *Builder) ForgetArtifact(ns domain.Namespace, hash string) {
	b.info.Remove(string(ns) + "/" + hash)
}
