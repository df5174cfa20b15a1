// Package cachebuilder materializes the per-file derived cache from a parse
// artifact: page info, chapter tree, search string with its char map, and the
// per-page char ranges. Every artifact is stored s2-compressed.
package cachebuilder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/klauspost/compress/s2"

	"docpipe/internal/domain"
	"docpipe/internal/interdoc"
	"docpipe/internal/lock"
	"docpipe/internal/logger"
	"docpipe/internal/port"
)

// Cache artifact names under cache/<file_id>/.
const (
	PageInfo      = "page_info"
	ChapterInfo   = "chapter_info"
	SearchString  = "search_string"
	SearchMap     = "search_map_"
	CharIdxRange  = "char_idx_range"
	ShardSize     = 1000
	MaxChapterLvl = 6
)

// Store is the slice of the content store the builder needs.
type Store interface {
	Stat(ctx context.Context, hash string, ns domain.Namespace) (*port.ObjectInfo, error)
	PutCache(ctx context.Context, fileID int64, name string, data []byte) error
	GetCache(ctx context.Context, fileID int64, name string) ([]byte, error)
	CacheExists(ctx context.Context, fileID int64, name string) (bool, error)
	DeleteCache(ctx context.Context, fileID int64, name string) error
}

// Config bounds the builder's throttle and info cache.
type Config struct {
	Cooldown    time.Duration
	LockTTL     time.Duration
	InfoEntries int
	InfoTTL     time.Duration
}

// Builder builds cache artifacts. Builds of one file are serialized through
// its cache:<hash>:<file_id> lock and a file rebuilt within the cooldown is
// skipped unless forced. A zero cooldown disables the skip.
type Builder struct {
	store  Store
	locker port.Locker
	log    *logger.Logger

	lockTTL time.Duration
	backoff time.Duration
	recent  *expirable.LRU[int64, time.Time]
	info    *expirable.LRU[string, ArtifactInfo]
}

// New creates a Builder.
func New(store Store, locker port.Locker, cfg Config, log *logger.Logger) *Builder {
	if cfg.InfoEntries <= 0 {
		cfg.InfoEntries = 4096
	}
	if cfg.InfoTTL <= 0 {
		cfg.InfoTTL = 10 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	b := &Builder{
		store:   store,
		locker:  locker,
		log:     log.With("component", "cachebuilder"),
		lockTTL: cfg.LockTTL,
		backoff: 100 * time.Millisecond,
		info:    expirable.NewLRU[string, ArtifactInfo](cfg.InfoEntries, nil, cfg.InfoTTL),
	}
	if cfg.Cooldown > 0 {
		b.recent = expirable.NewLRU[int64, time.Time](cfg.InfoEntries, nil, cfg.Cooldown)
	}
	return b
}

func (b *Builder) builtRecently(fileID int64) bool {
	if b.recent == nil {
		return false
	}
	_, ok := b.recent.Get(fileID)
	return ok
}

// PageEntry is one element of page_info.
type PageEntry struct {
	Page     int     `json:"page"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation int     `json:"rotation"`
	OCR      bool    `json:"ocr"`
}

// ChapterEntry is one element of chapter_info. Parent is -1 for roots.
type ChapterEntry struct {
	Index  int           `json:"index"`
	Parent int           `json:"parent"`
	Title  string        `json:"title"`
	Level  int           `json:"level"`
	Page   int           `json:"page"`
	Box    interdoc.Rect `json:"box"`
}

// MapEntry locates one character of the search string.
type MapEntry struct {
	Offset  int           `json:"i"`
	Page    int           `json:"p"`
	Box     interdoc.Rect `json:"b"`
	Element int           `json:"e"`
}

// PageRange is the [Start, End) rune range of a page in the search string.
type PageRange struct {
	Page  int `json:"page"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// PageResult summarizes a page cache build.
type PageResult struct {
	Pages  int
	Chars  int
	Shards int
}

// BuildPageCache writes page_info, search_string, search_map_N and
// char_idx_range. It returns domain.ErrThrottled only when the file's cache
// was built within the cooldown, so a throttled file has its artifacts.
func (b *Builder) BuildPageCache(ctx context.Context, fileID int64, contentHash string, doc *interdoc.Document, force bool) (*PageResult, error) {
	if !force && b.builtRecently(fileID) {
		return nil, domain.NewPipelineError(domain.KindThrottled, "page_cache",
			fmt.Errorf("file %d built recently", fileID))
	}
	release, err := b.acquire(ctx, fileID, contentHash)
	if err != nil {
		return nil, err
	}
	defer release()
	// a concurrent build of this file may have finished while we waited
	if !force && b.builtRecently(fileID) {
		return nil, domain.NewPipelineError(domain.KindThrottled, "page_cache",
			fmt.Errorf("file %d built recently", fileID))
	}

	pages := make([]PageEntry, 0, len(doc.Pages))
	for _, p := range doc.Pages {
		pages = append(pages, PageEntry{Page: p.Page, Width: p.Width, Height: p.Height, Rotation: p.Rotation, OCR: p.OCR})
	}
	idx := BuildSearchIndex(doc)

	if err := b.putJSON(ctx, fileID, PageInfo, pages); err != nil {
		return nil, err
	}
	if err := b.put(ctx, fileID, SearchString, []byte(idx.Text)); err != nil {
		return nil, err
	}
	shards := idx.Shards()
	for n, shard := range shards {
		if err := b.putJSON(ctx, fileID, SearchMap+strconv.Itoa(n), shard); err != nil {
			return nil, err
		}
	}
	if err := b.deleteShardsFrom(ctx, fileID, len(shards)); err != nil {
		return nil, err
	}
	if err := b.putJSON(ctx, fileID, CharIdxRange, idx.Ranges); err != nil {
		return nil, err
	}

	if b.recent != nil {
		b.recent.Add(fileID, time.Now())
	}
	b.log.Debug("cachebuilder.BuildPageCache: done", "file_id", fileID, "pages", len(pages), "chars", len(idx.Entries))
	return &PageResult{Pages: len(pages), Chars: len(idx.Entries), Shards: len(shards)}, nil
}

// BuildChapterCache writes chapter_info. An empty outline is a valid result.
func (b *Builder) BuildChapterCache(ctx context.Context, fileID int64, doc *interdoc.Document) (int, error) {
	chapters := BuildChapters(doc.Syllabuses)
	if err := b.putJSON(ctx, fileID, ChapterInfo, chapters); err != nil {
		return 0, err
	}
	return len(chapters), nil
}

// Read returns the decompressed cache artifact.
func (b *Builder) Read(ctx context.Context, fileID int64, name string) ([]byte, error) {
	data, err := b.store.GetCache(ctx, fileID, name)
	if err != nil {
		return nil, err
	}
	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindIntegrityViolation, "cache_read",
			fmt.Errorf("%s of file %d: %w", name, fileID, err))
	}
	return out, nil
}

// Invalidate removes every cache artifact of a file.
func (b *Builder) Invalidate(ctx context.Context, fileID int64) error {
	for _, name := range []string{PageInfo, ChapterInfo, SearchString, CharIdxRange} {
		if err := b.store.DeleteCache(ctx, fileID, name); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("cachebuilder.Invalidate %s: %w", name, err)
		}
	}
	if err := b.deleteShardsFrom(ctx, fileID, 0); err != nil {
		return err
	}
	if b.recent != nil {
		b.recent.Remove(fileID)
	}
	return nil
}

// acquire takes the file's cache lock, waiting while another build of the
// same file holds it. Lock backend errors are soft.
func (b *Builder) acquire(ctx context.Context, fileID int64, contentHash string) (func(), error) {
	key := lock.CacheKey(contentHash, fileID)
	deadline := time.Now().Add(b.lockTTL)
	wait := b.backoff
	for {
		ok, err := b.locker.TryAcquire(ctx, key, b.lockTTL)
		if err != nil {
			b.log.Warn("cachebuilder: lock unavailable", "file_id", fileID, "content_hash", contentHash, "error", err)
			return func() {}, nil
		}
		if ok {
			return func() {
				if err := b.locker.Release(context.WithoutCancel(ctx), key); err != nil {
					b.log.Warn("cachebuilder: release failed", "file_id", fileID, "error", err)
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("cachebuilder: cache lock of file %d held past %s", fileID, b.lockTTL)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		if wait < time.Second {
			wait *= 2
		}
	}
}

func (b *Builder) deleteShardsFrom(ctx context.Context, fileID int64, from int) error {
	for n := from; ; n++ {
		name := SearchMap + strconv.Itoa(n)
		exists, err := b.store.CacheExists(ctx, fileID, name)
		if err != nil {
			return fmt.Errorf("cachebuilder: probe %s: %w", name, err)
		}
		if !exists {
			return nil
		}
		if err := b.store.DeleteCache(ctx, fileID, name); err != nil {
			return fmt.Errorf("cachebuilder: delete %s: %w", name, err)
		}
	}
}

func (b *Builder) putJSON(ctx context.Context, fileID int64, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cachebuilder: encode %s: %w", name, err)
	}
	return b.put(ctx, fileID, name, data)
}

func (b *Builder) put(ctx context.Context, fileID int64, name string, data []byte) error {
	if err := b.store.PutCache(ctx, fileID, name, s2.Encode(nil, data)); err != nil {
		return fmt.Errorf("cachebuilder: store %s: %w", name, err)
	}
	return nil
}
