package port

import (
	"context"
	"fmt"
	"time"

	"docpipe/internal/domain"
)

// ArtifactReset selects derived artifacts cleared by a reset transition.
type ArtifactReset struct {
	PDFHash   bool
	ParseHash bool
	DocxHash  bool
}

// Transition describes one parse_state change. The repository applies it
// atomically and rejects it with domain.ErrStateRejected when the stored
// state is not one of From.
type Transition struct {
	From   []domain.ParseState
	To     domain.ParseState
	Update *domain.ArtifactUpdate
	Reset  *ArtifactReset
}

// Apply checks the source state of f and applies the transition in memory.
func (t Transition) Apply(f *domain.File) error {
	allowed := false
	for _, s := range t.From {
		if f.ParseState == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.NewPipelineError(domain.KindStateRejected, string(t.To),
			fmt.Errorf("file %d is %s", f.ID, f.ParseState))
	}
	if r := t.Reset; r != nil {
		if r.PDFHash {
			f.PDFHash = ""
		}
		if r.ParseHash {
			f.ParseHash = ""
		}
		if r.DocxHash {
			f.DocxHash = ""
		}
	}
	if t.Update != nil {
		f.Apply(*t.Update)
	}
	f.ParseState = t.To
	return nil
}

// FileRepository persists Files. parse_state is only written through Transition.
type FileRepository interface {
	Create(ctx context.Context, f *domain.File) error
	GetByID(ctx context.Context, id int64) (*domain.File, error)
	UpdateArtifacts(ctx context.Context, id int64, upd domain.ArtifactUpdate) error
	Transition(ctx context.Context, id int64, t Transition) (*domain.File, error)
	AttachSchemas(ctx context.Context, id int64, schemaIDs []int64) (domain.Int64List, error)
	DetachSchemas(ctx context.Context, id int64, schemaIDs []int64) (domain.Int64List, error)
	SoftDelete(ctx context.Context, id int64) error
	FindByHash(ctx context.Context, contentHash string, excludeID int64) (*domain.File, error)
	ListSiblingsAwaitingParse(ctx context.Context, contentHash string, excludeID int64) ([]domain.File, error)
	ListByState(ctx context.Context, states []domain.ParseState, limit int) ([]domain.File, error)
	ListStuck(ctx context.Context, state domain.ParseState, updatedBefore time.Time) ([]domain.File, error)
	ListIDsByProject(ctx context.Context, projectID int64) ([]int64, error)
	NameExists(ctx context.Context, projectID int64, name string) (bool, error)
}

// QuestionRepository persists Questions, one per (file, schema).
type QuestionRepository interface {
	CreateFor(ctx context.Context, fileID, schemaID int64) (*domain.Question, error)
	DeleteFor(ctx context.Context, fileID, schemaID int64) error
	GetByID(ctx context.Context, id int64) (*domain.Question, error)
	GetFor(ctx context.Context, fileID, schemaID int64) (*domain.Question, error)
	ListByFile(ctx context.Context, fileID int64) ([]domain.Question, error)
	Reset(ctx context.Context, id int64) error
	SetAnswer(ctx context.Context, id int64, answer domain.Answer, origin domain.AnswerOrigin) error
	SetState(ctx context.Context, id int64, state domain.ExtractState) error
	SetLLMState(ctx context.Context, id int64, state domain.ExtractState) error
	AddMarker(ctx context.Context, id int64, userID string, status domain.MarkStatus) error
}

// AnswerEditRepository persists user edits of answers.
type AnswerEditRepository interface {
	Create(ctx context.Context, e *domain.AnswerEdit) error
	ListFor(ctx context.Context, fileID, schemaID int64) ([]domain.AnswerEdit, error)
	DeleteFor(ctx context.Context, fileID, schemaID int64) error
}

// AuditRepository persists audit rules and results.
type AuditRepository interface {
	ListRules(ctx context.Context, schemaID int64) ([]domain.AuditRule, error)
	CreateResults(ctx context.Context, results []domain.AuditResult) error
	DeleteByFile(ctx context.Context, fileID int64, kind *domain.AuditKind) error
	DeleteBySchema(ctx context.Context, fileID, schemaID int64) error
	ListByFile(ctx context.Context, fileID int64) ([]domain.AuditResult, error)
}

// SchemaRepository reads schemas.
type SchemaRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Schema, error)
	GetByName(ctx context.Context, name string) (*domain.Schema, error)
	ListByIDs(ctx context.Context, ids []int64) ([]domain.Schema, error)
}

// ProjectRepository manages projects and their folder trees.
type ProjectRepository interface {
	GetProject(ctx context.Context, id int64) (*domain.Project, error)
	GetTree(ctx context.Context, id int64) (*domain.Tree, error)
	EnsureChildTree(ctx context.Context, parent *domain.Tree, name string) (*domain.Tree, error)
	SoftDelete(ctx context.Context, id int64) error
}
