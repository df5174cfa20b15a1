// Package memory provides in-process repositories with the same semantics
// as the PostgreSQL ones. They back the server when db.driver=memory and the
// pipeline tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"docpipe/internal/domain"
	"docpipe/internal/port"
)

// Store holds every table behind one mutex.
type Store struct {
	mu        sync.Mutex
	seq       int64
	files     map[int64]domain.File
	questions map[int64]domain.Question
	edits     []domain.AnswerEdit
	rules     []domain.AuditRule
	results   []domain.AuditResult
	schemas   map[int64]domain.Schema
	projects  map[int64]domain.Project
	trees     map[int64]domain.Tree
	now       func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		files:     make(map[int64]domain.File),
		questions: make(map[int64]domain.Question),
		schemas:   make(map[int64]domain.Schema),
		projects:  make(map[int64]domain.Project),
		trees:     make(map[int64]domain.Tree),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// Files returns the FileRepository view of the store.
func (s *Store) Files() port.FileRepository { return fileRepo{s} }

// Questions returns the QuestionRepository view of the store.
func (s *Store) Questions() port.QuestionRepository { return questionRepo{s} }

// Edits returns the AnswerEditRepository view of the store.
func (s *Store) Edits() port.AnswerEditRepository { return editRepo{s} }

// Audits returns the AuditRepository view of the store.
func (s *Store) Audits() port.AuditRepository { return auditRepo{s} }

// Schemas returns the SchemaRepository view of the store.
func (s *Store) Schemas() port.SchemaRepository { return schemaRepo{s} }

// Projects returns the ProjectRepository view of the store.
func (s *Store) Projects() port.ProjectRepository { return projectRepo{s} }

// AddSchema inserts a schema and returns its id.
func (s *Store) AddSchema(sc domain.Schema) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc.ID = s.nextID()
	sc.CreatedAt = s.now()
	s.schemas[sc.ID] = sc
	return sc.ID
}

// AddRule inserts an audit rule.
func (s *Store) AddRule(r domain.AuditRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.nextID()
	s.rules = append(s.rules, r)
}

// AddProject inserts a project with a root tree and returns both.
func (s *Store) AddProject(p domain.Project) (domain.Project, domain.Tree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID()
	p.CreatedAt = s.now()
	s.projects[p.ID] = p
	t := domain.Tree{ID: s.nextID(), ProjectID: p.ID, Name: p.Name}
	s.trees[t.ID] = t
	return p, t
}

// Age moves a file's updated_at into the past.
func (s *Store) Age(id int64, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[id]; ok {
		f.UpdatedAt = f.UpdatedAt.Add(-d)
		s.files[id] = f
	}
}

func cloneFile(f domain.File) domain.File {
	f.AttachedSchemas = append(domain.Int64List(nil), f.AttachedSchemas...)
	f.Meta = domain.Meta(nil).Merge(f.Meta)
	return f
}

type fileRepo struct{ s *Store }

func (r fileRepo) Create(_ context.Context, f *domain.File) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f.ID = r.s.nextID()
	f.CreatedAt = r.s.now()
	f.UpdatedAt = f.CreatedAt
	if f.ParseState == "" {
		f.ParseState = domain.ParseStatePending
	}
	r.s.files[f.ID] = cloneFile(*f)
	return nil
}

func (r fileRepo) GetByID(_ context.Context, id int64) (*domain.File, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.files[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneFile(f)
	return &out, nil
}

func (r fileRepo) mutate(id int64, fn func(f *domain.File) error) (*domain.File, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.files[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	f = cloneFile(f)
	if err := fn(&f); err != nil {
		return nil, err
	}
	f.UpdatedAt = r.s.now()
	r.s.files[id] = f
	out := cloneFile(f)
	return &out, nil
}

func (r fileRepo) UpdateArtifacts(_ context.Context, id int64, upd domain.ArtifactUpdate) error {
	_, err := r.mutate(id, func(f *domain.File) error {
		f.Apply(upd)
		return nil
	})
	return err
}

func (r fileRepo) Transition(_ context.Context, id int64, t port.Transition) (*domain.File, error) {
	return r.mutate(id, t.Apply)
}

func (r fileRepo) AttachSchemas(_ context.Context, id int64, ids []int64) (domain.Int64List, error) {
	f, err := r.mutate(id, func(f *domain.File) error {
		for _, sid := range ids {
			if !f.AttachedSchemas.Contains(sid) {
				f.AttachedSchemas = append(f.AttachedSchemas, sid)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f.AttachedSchemas, nil
}

func (r fileRepo) DetachSchemas(_ context.Context, id int64, ids []int64) (domain.Int64List, error) {
	f, err := r.mutate(id, func(f *domain.File) error {
		kept := domain.Int64List{}
		for _, sid := range f.AttachedSchemas {
			if !domain.Int64List(ids).Contains(sid) {
				kept = append(kept, sid)
			}
		}
		f.AttachedSchemas = kept
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f.AttachedSchemas, nil
}

func (r fileRepo) SoftDelete(_ context.Context, id int64) error {
	_, err := r.mutate(id, func(f *domain.File) error {
		f.Deleted = true
		return nil
	})
	return err
}

func (r fileRepo) filter(keep func(f domain.File) bool) []domain.File {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.File
	for _, f := range r.s.files {
		if keep(f) {
			out = append(out, cloneFile(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r fileRepo) FindByHash(_ context.Context, hash string, excludeID int64) (*domain.File, error) {
	matches := r.filter(func(f domain.File) bool {
		return f.ContentHash == hash && f.ID != excludeID && !f.Deleted && f.ParseHash != ""
	})
	if len(matches) == 0 {
		return nil, domain.ErrNotFound
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.UpdatedAt.After(best.UpdatedAt) {
			best = m
		}
	}
	return &best, nil
}

func (r fileRepo) ListSiblingsAwaitingParse(_ context.Context, hash string, excludeID int64) ([]domain.File, error) {
	return r.filter(func(f domain.File) bool {
		return f.ContentHash == hash && f.ID != excludeID && !f.Deleted && f.ParseHash == ""
	}), nil
}

func (r fileRepo) ListByState(_ context.Context, states []domain.ParseState, limit int) ([]domain.File, error) {
	out := r.filter(func(f domain.File) bool {
		if f.Deleted {
			return false
		}
		for _, st := range states {
			if f.ParseState == st {
				return true
			}
		}
		return false
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fileRepo) ListStuck(_ context.Context, state domain.ParseState, before time.Time) ([]domain.File, error) {
	return r.filter(func(f domain.File) bool {
		return !f.Deleted && f.ParseState == state && f.UpdatedAt.Before(before)
	}), nil
}

func (r fileRepo) ListIDsByProject(_ context.Context, projectID int64) ([]int64, error) {
	var ids []int64
	for _, f := range r.filter(func(f domain.File) bool {
		return !f.Deleted && f.ProjectID != nil && *f.ProjectID == projectID
	}) {
		ids = append(ids, f.ID)
	}
	return ids, nil
}

func (r fileRepo) NameExists(_ context.Context, projectID int64, name string) (bool, error) {
	return len(r.filter(func(f domain.File) bool {
		return !f.Deleted && f.ProjectID != nil && *f.ProjectID == projectID && f.Name == name
	})) > 0, nil
}

type questionRepo struct{ s *Store }

func (r questionRepo) find(fileID, schemaID int64) (domain.Question, bool) {
	for _, q := range r.s.questions {
		if q.FileID == fileID && q.SchemaID == schemaID {
			return q, true
		}
	}
	return domain.Question{}, false
}

func (r questionRepo) CreateFor(_ context.Context, fileID, schemaID int64) (*domain.Question, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if q, ok := r.find(fileID, schemaID); ok {
		return &q, nil
	}
	now := r.s.now()
	q := domain.Question{
		ID: r.s.nextID(), FileID: fileID, SchemaID: schemaID,
		ExtractState: domain.ExtractPending, LLMState: domain.ExtractPending,
		Markers: domain.StringList{}, Status: domain.MarkPending,
		CreatedAt: now, UpdatedAt: now,
	}
	r.s.questions[q.ID] = q
	return &q, nil
}

func (r questionRepo) DeleteFor(_ context.Context, fileID, schemaID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.find(fileID, schemaID)
	if !ok {
		return nil
	}
	delete(r.s.questions, q.ID)
	kept := r.s.results[:0]
	for _, res := range r.s.results {
		if res.QuestionID != q.ID {
			kept = append(kept, res)
		}
	}
	r.s.results = kept
	return nil
}

func (r questionRepo) GetByID(_ context.Context, id int64) (*domain.Question, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.questions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &q, nil
}

func (r questionRepo) GetFor(_ context.Context, fileID, schemaID int64) (*domain.Question, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.find(fileID, schemaID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &q, nil
}

func (r questionRepo) ListByFile(_ context.Context, fileID int64) ([]domain.Question, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Question
	for _, q := range r.s.questions {
		if q.FileID == fileID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SchemaID < out[j].SchemaID })
	return out, nil
}

func (r questionRepo) update(id int64, fn func(q *domain.Question)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.questions[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&q)
	q.UpdatedAt = r.s.now()
	r.s.questions[id] = q
	return nil
}

func (r questionRepo) Reset(_ context.Context, id int64) error {
	return r.update(id, func(q *domain.Question) {
		q.Answer = domain.Answer{}
		q.AnswerPreset = domain.Answer{}
		q.ExtractState = domain.ExtractPending
		q.LLMState = domain.ExtractPending
	})
}

func (r questionRepo) SetAnswer(_ context.Context, id int64, a domain.Answer, origin domain.AnswerOrigin) error {
	return r.update(id, func(q *domain.Question) {
		if origin == domain.OriginPreset {
			q.AnswerPreset = a
		} else {
			q.Answer = a
		}
	})
}

func (r questionRepo) SetState(_ context.Context, id int64, st domain.ExtractState) error {
	return r.update(id, func(q *domain.Question) { q.ExtractState = st })
}

func (r questionRepo) SetLLMState(_ context.Context, id int64, st domain.ExtractState) error {
	return r.update(id, func(q *domain.Question) { q.LLMState = st })
}

func (r questionRepo) AddMarker(_ context.Context, id int64, userID string, status domain.MarkStatus) error {
	return r.update(id, func(q *domain.Question) {
		for _, m := range q.Markers {
			if m == userID {
				q.Status = status
				return
			}
		}
		q.Markers = append(q.Markers, userID)
		q.Status = status
	})
}

type editRepo struct{ s *Store }

func (r editRepo) Create(_ context.Context, e *domain.AnswerEdit) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e.ID = r.s.nextID()
	e.CreatedAt = r.s.now()
	r.s.edits = append(r.s.edits, *e)
	return nil
}

func (r editRepo) ListFor(_ context.Context, fileID, schemaID int64) ([]domain.AnswerEdit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.AnswerEdit
	for _, e := range r.s.edits {
		if e.FileID == fileID && e.SchemaID == schemaID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r editRepo) DeleteFor(_ context.Context, fileID, schemaID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.edits[:0]
	for _, e := range r.s.edits {
		if e.FileID != fileID || e.SchemaID != schemaID {
			kept = append(kept, e)
		}
	}
	r.s.edits = kept
	return nil
}

type auditRepo struct{ s *Store }

func (r auditRepo) ListRules(_ context.Context, schemaID int64) ([]domain.AuditRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.AuditRule
	for _, rule := range r.s.rules {
		if rule.SchemaID == schemaID && rule.Active {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r auditRepo) CreateResults(_ context.Context, results []domain.AuditResult) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, res := range results {
		res.ID = r.s.nextID()
		res.CreatedAt = r.s.now()
		r.s.results = append(r.s.results, res)
	}
	return nil
}

func (r auditRepo) deleteWhere(match func(res domain.AuditResult) bool) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.results[:0]
	for _, res := range r.s.results {
		if !match(res) {
			kept = append(kept, res)
		}
	}
	r.s.results = kept
}

func (r auditRepo) DeleteByFile(_ context.Context, fileID int64, kind *domain.AuditKind) error {
	r.deleteWhere(func(res domain.AuditResult) bool {
		return res.FileID == fileID && (kind == nil || res.Kind == *kind)
	})
	return nil
}

func (r auditRepo) DeleteBySchema(_ context.Context, fileID, schemaID int64) error {
	r.deleteWhere(func(res domain.AuditResult) bool {
		return res.FileID == fileID && res.SchemaID == schemaID
	})
	return nil
}

func (r auditRepo) ListByFile(_ context.Context, fileID int64) ([]domain.AuditResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.AuditResult
	for _, res := range r.s.results {
		if res.FileID == fileID {
			out = append(out, res)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SchemaID != out[j].SchemaID {
			return out[i].SchemaID < out[j].SchemaID
		}
		if out[i].Origin != out[j].Origin {
			return out[i].Origin < out[j].Origin
		}
		return out[i].OrderingKey < out[j].OrderingKey
	})
	return out, nil
}

type schemaRepo struct{ s *Store }

func (r schemaRepo) GetByID(_ context.Context, id int64) (*domain.Schema, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sc, ok := r.s.schemas[id]
	if !ok {
		return nil, domain.ErrSchemaNotFound
	}
	return &sc, nil
}

func (r schemaRepo) GetByName(_ context.Context, name string) (*domain.Schema, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sc := range r.s.schemas {
		if sc.Name == name {
			return &sc, nil
		}
	}
	return nil, domain.ErrSchemaNotFound
}

func (r schemaRepo) ListByIDs(_ context.Context, ids []int64) ([]domain.Schema, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Schema
	for _, id := range ids {
		if sc, ok := r.s.schemas[id]; ok {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type projectRepo struct{ s *Store }

func (r projectRepo) GetProject(_ context.Context, id int64) (*domain.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if p.Deleted {
		return nil, domain.ErrFileGone
	}
	return &p, nil
}

func (r projectRepo) GetTree(_ context.Context, id int64) (*domain.Tree, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.trees[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (r projectRepo) EnsureChildTree(_ context.Context, parent *domain.Tree, name string) (*domain.Tree, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.trees {
		if t.ProjectID == parent.ProjectID && t.ParentID != nil && *t.ParentID == parent.ID && t.Name == name {
			return &t, nil
		}
	}
	pid := parent.ID
	t := domain.Tree{ID: r.s.nextID(), ProjectID: parent.ProjectID, ParentID: &pid, Name: name}
	r.s.trees[t.ID] = t
	return &t, nil
}

func (r projectRepo) SoftDelete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Deleted = true
	r.s.projects[id] = p
	for fid, f := range r.s.files {
		if f.ProjectID != nil && *f.ProjectID == id {
			f.Deleted = true
			r.s.files[fid] = f
		}
	}
	return nil
}
