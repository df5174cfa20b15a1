package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"docpipe/internal/blobstore"
	"docpipe/internal/config"
	"docpipe/internal/domain"
	"docpipe/internal/logger"
	"docpipe/internal/port"
)

// Duplicate name policies.
const (
	DuplicateAllow  = "allow"
	DuplicateReject = "reject"
)

// MaxPriority is the lowest scheduling priority an upload may ask for.
const MaxPriority = 9

// BlobStore is the slice of the content store the services use.
type BlobStore interface {
	Put(ctx context.Context, hash string, ns domain.Namespace, data []byte) error
	Get(ctx context.Context, hash string, ns domain.Namespace) ([]byte, error)
	Open(ctx context.Context, hash string, ns domain.Namespace) (io.ReadCloser, error)
}

// UploadPart is one uploaded blob.
type UploadPart struct {
	Name string
	Data []byte
}

// UploadInput is the DTO for upload requests.
type UploadInput struct {
	Owner      uuid.UUID
	Parts      []UploadPart
	FileURL    string
	TreeID     *int64
	Meta       domain.Meta
	SchemaID   *int64
	SchemaName string
	Priority   int
	TaskKind   domain.TaskKind
	Scenario   string
}

// UploadResult describes one accepted file.
type UploadResult struct {
	FileID          int64            `json:"file_id"`
	Filename        string           `json:"filename"`
	AttachedSchemas domain.Int64List `json:"attached_schemas"`
	ProjectID       *int64           `json:"project_id,omitempty"`
	TreeID          *int64           `json:"tree_id,omitempty"`
	QuestionID      *int64           `json:"question_id,omitempty"`
	SchemaID        *int64           `json:"schema_id,omitempty"`
}

// IntakeService accepts uploads into the pipeline.
type IntakeService interface {
	Upload(ctx context.Context, input UploadInput) ([]UploadResult, error)
}

type intakeService struct {
	files     port.FileRepository
	questions port.QuestionRepository
	schemas   port.SchemaRepository
	projects  port.ProjectRepository
	blobs     BlobStore
	pipeline  Pipeline
	cfg       config.UploadConfig
	http      *http.Client
	log       *logger.Logger
}

// NewIntakeService creates a new IntakeService implementation.
func NewIntakeService(
	files port.FileRepository,
	questions port.QuestionRepository,
	schemas port.SchemaRepository,
	projects port.ProjectRepository,
	blobs BlobStore,
	pipeline Pipeline,
	cfg config.UploadConfig,
	log *logger.Logger,
) IntakeService {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &intakeService{
		files:     files,
		questions: questions,
		schemas:   schemas,
		projects:  projects,
		blobs:     blobs,
		pipeline:  pipeline,
		cfg:       cfg,
		http:      &http.Client{Timeout: timeout},
		log:       log.With("component", "intake"),
	}
}

// intakeItem is one file to create after the batch has been validated.
type intakeItem struct {
	name   string
	data   []byte
	treeID *int64
}

func (s *intakeService) Upload(ctx context.Context, input UploadInput) ([]UploadResult, error) {
	if input.Priority < 0 || input.Priority > MaxPriority {
		return nil, fmt.Errorf("%w: priority must be between 0 and %d", domain.ErrInvalidInput, MaxPriority)
	}
	task := input.TaskKind
	if task == "" {
		task = domain.TaskExtract
	}
	if !domain.ValidTaskKinds[task] {
		return nil, fmt.Errorf("%w: unknown task kind %q", domain.ErrInvalidInput, task)
	}

	schemaIDs, err := s.resolveSchemas(ctx, input)
	if err != nil {
		return nil, err
	}
	projectID, err := s.resolveProject(ctx, input.TreeID)
	if err != nil {
		return nil, err
	}

	parts := input.Parts
	if input.FileURL != "" {
		part, err := s.fetch(ctx, input.FileURL)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no file supplied", domain.ErrInvalidInput)
	}

	var items []intakeItem
	for _, p := range parts {
		if err := s.checkSize(p); err != nil {
			return nil, err
		}
		if domain.ExtensionOf(p.Name) == "zip" {
			entries, err := s.unzip(ctx, p, input.TreeID)
			if err != nil {
				return nil, err
			}
			items = append(items, entries...)
			continue
		}
		items = append(items, intakeItem{name: p.Name, data: p.Data, treeID: input.TreeID})
	}
	if err := s.checkNames(ctx, projectID, items); err != nil {
		return nil, err
	}

	meta := domain.Meta{}.Merge(input.Meta)
	if len(schemaIDs) > 0 {
		meta[domain.MetaSchemaIDs] = schemaIDs
	}
	var scenario *string
	if input.Scenario != "" {
		scenario = &input.Scenario
	}

	results := make([]UploadResult, 0, len(items))
	for _, it := range items {
		f := &domain.File{
			Name:            it.name,
			ContentHash:     blobstore.HashBytes(it.data),
			Size:            int64(len(it.data)),
			AttachedSchemas: append(domain.Int64List(nil), schemaIDs...),
			Owner:           input.Owner,
			ProjectID:       projectID,
			TreeID:          it.treeID,
			TaskKind:        task,
			Scenario:        scenario,
			Priority:        input.Priority,
			Meta:            meta,
			SourceOrigin:    sourceOrigin(input.FileURL, it.name),
		}
		res, err := s.accept(ctx, f, it.data)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	s.log.Info("intake.Upload: accepted", "files", len(results), "schemas", schemaIDs, "priority", input.Priority)
	return results, nil
}

// accept stores the original, creates the File and its Questions and queues it.
func (s *intakeService) accept(ctx context.Context, f *domain.File, data []byte) (*UploadResult, error) {
	if err := s.blobs.Put(ctx, f.ContentHash, domain.NSOriginal, data); err != nil {
		return nil, fmt.Errorf("intake.Upload: storing original: %w", err)
	}
	if err := s.files.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("intake.Upload: %w", err)
	}
	res := &UploadResult{
		FileID:          f.ID,
		Filename:        f.Name,
		AttachedSchemas: f.AttachedSchemas,
		ProjectID:       f.ProjectID,
		TreeID:          f.TreeID,
	}
	for _, id := range f.AttachedSchemas {
		q, err := s.questions.CreateFor(ctx, f.ID, id)
		if err != nil {
			return nil, fmt.Errorf("intake.Upload: %w", err)
		}
		if len(f.AttachedSchemas) == 1 {
			qid, sid := q.ID, id
			res.QuestionID, res.SchemaID = &qid, &sid
		}
	}

	if err := s.pipeline.Enqueue(f); err != nil {
		if delErr := s.files.SoftDelete(context.WithoutCancel(ctx), f.ID); delErr != nil {
			s.log.Error("intake.Upload: removing unqueued file failed", "file_id", f.ID, "error", delErr)
		}
		return nil, err
	}
	s.log.Debug("intake.Upload: file queued", "file_id", f.ID, "name", f.Name, "content_hash", f.ContentHash)
	return res, nil
}

// resolveSchemas unions schema_id, schema_name and meta.schema_ids and
// checks that every schema exists.
func (s *intakeService) resolveSchemas(ctx context.Context, input UploadInput) ([]int64, error) {
	var ids []int64
	seen := map[int64]bool{}
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if input.SchemaID != nil {
		add(*input.SchemaID)
	}
	if input.SchemaName != "" {
		sc, err := s.schemas.GetByName(ctx, input.SchemaName)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.ErrSchemaNotFound
			}
			return nil, err
		}
		add(sc.ID)
	}
	for _, id := range input.Meta.Int64s(domain.MetaSchemaIDs) {
		add(id)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := s.schemas.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("intake.Upload: %w", err)
	}
	if len(found) != len(ids) {
		return nil, domain.ErrSchemaNotFound
	}
	return ids, nil
}

func (s *intakeService) resolveProject(ctx context.Context, treeID *int64) (*int64, error) {
	if treeID == nil {
		return nil, nil
	}
	tree, err := s.projects.GetTree(ctx, *treeID)
	if err != nil {
		return nil, err
	}
	project, err := s.projects.GetProject(ctx, tree.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.Deleted {
		return nil, domain.ErrFileGone
	}
	return &project.ID, nil
}

func (s *intakeService) checkSize(p UploadPart) error {
	if len(p.Data) == 0 {
		return fmt.Errorf("%w: %s", domain.ErrEmptyUpload, p.Name)
	}
	if max := s.cfg.MaxBytes(); max > 0 && int64(len(p.Data)) > max {
		return fmt.Errorf("%w: %s", domain.ErrFileTooLarge, p.Name)
	}
	return nil
}

// checkNames applies the duplicate name policy within the target project.
func (s *intakeService) checkNames(ctx context.Context, projectID *int64, items []intakeItem) error {
	if projectID == nil || s.cfg.DuplicateNamePolicy != DuplicateReject {
		return nil
	}
	seen := map[string]bool{}
	for _, it := range items {
		key := fmt.Sprintf("%d/%s", derefTree(it.treeID), it.name)
		if seen[key] {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateName, it.name)
		}
		seen[key] = true
		exists, err := s.files.NameExists(ctx, *projectID, it.name)
		if err != nil {
			return fmt.Errorf("intake.Upload: %w", err)
		}
		if exists {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateName, it.name)
		}
	}
	return nil
}

// unzip expands an archive into one item per regular entry. Folders inside
// the archive become child trees of the target tree.
func (s *intakeService) unzip(ctx context.Context, p UploadPart, treeID *int64) ([]intakeItem, error) {
	zr, err := zip.NewReader(bytes.NewReader(p.Data), int64(len(p.Data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a valid zip archive", domain.ErrInvalidInput, p.Name)
	}
	var root *domain.Tree
	if treeID != nil {
		if root, err = s.projects.GetTree(ctx, *treeID); err != nil {
			return nil, err
		}
	}
	trees := map[string]*domain.Tree{"": root}

	var items []intakeItem
	for _, zf := range zr.File {
		name := strings.TrimPrefix(path.Clean("/"+zf.Name), "/")
		if zf.FileInfo().IsDir() || skipEntry(name) {
			continue
		}
		data, err := readEntry(zf, s.cfg.MaxBytes())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", zf.Name, err)
		}
		if len(data) == 0 {
			continue
		}
		item := intakeItem{name: path.Base(name), data: data}
		if root != nil {
			tree, err := s.ensureTree(ctx, trees, path.Dir(name))
			if err != nil {
				return nil, err
			}
			item.treeID = &tree.ID
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrEmptyUpload, p.Name)
	}
	s.log.Debug("intake.Upload: archive expanded", "archive", p.Name, "entries", len(items))
	return items, nil
}

func (s *intakeService) ensureTree(ctx context.Context, trees map[string]*domain.Tree, dir string) (*domain.Tree, error) {
	if dir == "." {
		dir = ""
	}
	if t, ok := trees[dir]; ok {
		return t, nil
	}
	parentDir := path.Dir(dir)
	if parentDir == "." {
		parentDir = ""
	}
	parent, err := s.ensureTree(ctx, trees, parentDir)
	if err != nil {
		return nil, err
	}
	t, err := s.projects.EnsureChildTree(ctx, parent, path.Base(dir))
	if err != nil {
		return nil, fmt.Errorf("intake.Upload: %w", err)
	}
	trees[dir] = t
	return t, nil
}

// fetch downloads file_url. The file name comes from Content-Disposition or
// the last path segment.
func (s *intakeService) fetch(ctx context.Context, rawURL string) (UploadPart, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return UploadPart{}, fmt.Errorf("%w: file_url must be an http(s) URL", domain.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return UploadPart{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return UploadPart{}, fmt.Errorf("%w: fetching file_url: %v", domain.ErrInvalidInput, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return UploadPart{}, fmt.Errorf("%w: fetching file_url: status %d", domain.ErrInvalidInput, resp.StatusCode)
	}

	limit := s.cfg.MaxBytes()
	body := io.Reader(resp.Body)
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return UploadPart{}, fmt.Errorf("intake.Upload: reading file_url: %w", err)
	}

	name := path.Base(u.Path)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = path.Base(params["filename"])
	}
	if name == "" || name == "." || name == "/" {
		name = "download"
	}
	s.log.Info("intake.Upload: fetched file_url", "host", u.Host, "name", name, "bytes", len(data))
	return UploadPart{Name: name, Data: data}, nil
}

func readEntry(zf *zip.File, limit int64) ([]byte, error) {
	if limit > 0 && int64(zf.UncompressedSize64) > limit {
		return nil, domain.ErrFileTooLarge
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	defer rc.Close()
	r := io.Reader(rc)
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, domain.ErrFileTooLarge
	}
	return data, nil
}

func skipEntry(name string) bool {
	base := path.Base(name)
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(base, ".") || base == "Thumbs.db"
}

func sourceOrigin(fileURL, name string) string {
	if fileURL != "" {
		return fileURL
	}
	return name
}

func derefTree(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
