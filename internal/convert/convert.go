// Package convert turns uploaded originals into PDF.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"

	"docpipe/internal/config"
	"docpipe/internal/domain"
	"docpipe/internal/logger"
	"docpipe/internal/port"
)

// BlobWriter stores converted PDFs.
type BlobWriter interface {
	Put(ctx context.Context, hash string, ns domain.Namespace, data []byte) error
}

// HashFunc returns the content hash of a blob.
type HashFunc func(data []byte) string

// Converter dispatches originals to the matching conversion route. Subprocess
// and RPC routes share one bounded pool; headless browser renders share another.
// Both pools queue callers instead of rejecting them.
type Converter struct {
	store      BlobWriter
	hash       HashFunc
	runner     Runner
	httpClient *http.Client
	log        *logger.Logger

	sofficePath  string
	chromePath   string
	officeRPCURL string
	workDir      string

	procPool    *semaphore.Weighted
	browserPool *semaphore.Weighted
}

// Option customizes a Converter.
type Option func(*Converter)

// WithRunner replaces the subprocess runner.
func WithRunner(r Runner) Option {
	return func(c *Converter) { c.runner = r }
}

// WithHTTPClient replaces the client used for the office RPC.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Converter) { c.httpClient = hc }
}

// New creates a Converter.
func New(cfg *config.ConvertConfig, store BlobWriter, hash HashFunc, log *logger.Logger, opts ...Option) *Converter {
	procs := int64(cfg.Concurrency)
	if procs < 1 {
		procs = 1
	}
	browsers := int64(cfg.BrowserConcurrency)
	if browsers < 1 {
		browsers = 1
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "docpipe-convert")
	}
	c := &Converter{
		store:        store,
		hash:         hash,
		runner:       execRunner{},
		httpClient:   &http.Client{Timeout: 5 * time.Minute},
		log:          log.With("component", "convert"),
		sofficePath:  cfg.SofficePath,
		chromePath:   cfg.ChromePath,
		officeRPCURL: cfg.OfficeRPCURL,
		workDir:      workDir,
		procPool:     semaphore.NewWeighted(procs),
		browserPool:  semaphore.NewWeighted(browsers),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Supported reports whether ext has a conversion route.
func Supported(ext string) bool {
	switch {
	case ext == "pdf", ext == "txt",
		domain.WordExtensions[ext], domain.ImageExtensions[ext],
		domain.ExcelExtensions[ext], domain.SlideExtensions[ext], domain.HTMLExtensions[ext]:
		return true
	}
	return false
}

// Convert produces the PDF of an original, stores it under the pdf namespace
// and returns its hash with a page estimate.
func (c *Converter) Convert(ctx context.Context, in port.ConvertInput) (*port.ConvertOutput, error) {
	ext := in.Extension
	start := time.Now()

	var (
		pdfData []byte
		err     error
	)
	switch {
	case ext == "pdf":
		pdfData = in.Data
	case domain.WordExtensions[ext]:
		pdfData, err = c.withPool(ctx, c.procPool, func() ([]byte, error) {
			return c.soffice(ctx, in.ContentHash, ext, in.Data)
		})
	case domain.ImageExtensions[ext]:
		pdfData, err = imageToPDF(in.Data, ext)
	case domain.ExcelExtensions[ext]:
		var page []byte
		page, err = excelToHTML(in.Data)
		if err == nil {
			pdfData, err = c.renderHTML(ctx, in.ContentHash, page)
		}
	case ext == "txt":
		pdfData, err = c.renderHTML(ctx, in.ContentHash, textToHTML(in.Data))
	case domain.SlideExtensions[ext]:
		pdfData, err = c.withPool(ctx, c.procPool, func() ([]byte, error) {
			return c.officeRPC(ctx, in.ContentHash+"."+ext, in.Data)
		})
	case domain.HTMLExtensions[ext]:
		pdfData, err = c.renderHTML(ctx, in.ContentHash, in.Data)
	default:
		return nil, domain.NewPipelineError(domain.KindUnsupportedFormat, "convert",
			fmt.Errorf("extension %q has no conversion route", ext))
	}
	if err != nil {
		if domain.KindOf(err) != "" {
			return nil, err
		}
		return nil, domain.NewPipelineError(domain.KindConversionFailed, "convert", err)
	}
	if len(pdfData) == 0 {
		return nil, domain.NewPipelineError(domain.KindConversionFailed, "convert",
			fmt.Errorf("converter produced an empty pdf for %q", ext))
	}

	pdfHash := in.ContentHash
	if ext != "pdf" {
		pdfHash = c.hash(pdfData)
	}
	if err := c.store.Put(ctx, pdfHash, domain.NSPDF, pdfData); err != nil {
		return nil, fmt.Errorf("convert.Convert store: %w", err)
	}

	pages := EstimatePages(pdfData)
	c.log.Debug("convert.Convert: done",
		"content_hash", in.ContentHash, "ext", ext, "pdf_hash", pdfHash,
		"pages", pages, "elapsed", time.Since(start).String())
	return &port.ConvertOutput{PDFHash: pdfHash, Pages: pages}, nil
}

func (c *Converter) withPool(ctx context.Context, pool *semaphore.Weighted, fn func() ([]byte, error)) ([]byte, error) {
	if err := pool.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer pool.Release(1)
	return fn()
}

func (c *Converter) renderHTML(ctx context.Context, name string, page []byte) ([]byte, error) {
	return c.withPool(ctx, c.browserPool, func() ([]byte, error) {
		return c.chrome(ctx, name, page)
	})
}

// jobDir creates a private scratch directory for one conversion.
func (c *Converter) jobDir(name string) (string, func(), error) {
	if err := os.MkdirAll(c.workDir, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir work dir: %w", err)
	}
	dir, err := os.MkdirTemp(c.workDir, name+"-")
	if err != nil {
		return "", func() {}, fmt.Errorf("create job dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

func readOutput(path string, out []byte) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pdf output not found at %s: %w; out=%s", path, err, string(bytes.TrimSpace(out)))
	}
	return data, nil
}
