package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// File is one ingested upload and the pipeline state derived from it.
type File struct {
	ID              int64      `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	ContentHash     string     `db:"content_hash" json:"content_hash"`
	Size            int64      `db:"size" json:"size"`
	PageCount       int        `db:"page_count" json:"page_count"`
	PDFHash         string     `db:"pdf_hash" json:"pdf_hash,omitempty"`
	ParseHash       string     `db:"parse_hash" json:"parse_hash,omitempty"`
	DocxHash        string     `db:"docx_hash" json:"docx_hash,omitempty"`
	AttachedSchemas Int64List  `db:"attached_schemas" json:"attached_schemas"`
	Owner           uuid.UUID  `db:"owner" json:"owner"`
	ProjectID       *int64     `db:"project_id" json:"project_id,omitempty"`
	TreeID          *int64     `db:"tree_id" json:"tree_id,omitempty"`
	TaskKind        TaskKind   `db:"task_kind" json:"task_kind"`
	Scenario        *string    `db:"scenario" json:"scenario,omitempty"`
	Priority        int        `db:"priority" json:"priority"`
	Meta            Meta       `db:"meta" json:"meta"`
	SourceOrigin    string     `db:"source_origin" json:"source_origin"`
	Deleted         bool       `db:"deleted" json:"deleted"`
	ParseState      ParseState `db:"parse_state" json:"parse_state"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Extension returns the declared extension of the file, lower-cased without the dot.
func (f *File) Extension() string {
	if ext := f.Meta.String(MetaExtension); ext != "" {
		return ext
	}
	return ExtensionOf(f.Name)
}

// IsWord reports whether the original upload is a Word-family document.
func (f *File) IsWord() bool {
	return WordExtensions[f.Extension()]
}

// ArtifactUpdate carries the derived artifacts written by update_artifacts.
// Nil fields are left untouched; Meta is union-merged into the stored meta.
type ArtifactUpdate struct {
	PDFHash   *string
	ParseHash *string
	DocxHash  *string
	PageCount *int
	Meta      Meta
}

// Question binds a File to a Schema and holds the extracted answer.
type Question struct {
	ID           int64        `db:"id" json:"id"`
	FileID       int64        `db:"file_id" json:"file_id"`
	SchemaID     int64        `db:"schema_id" json:"schema_id"`
	ExtractState ExtractState `db:"extract_state" json:"extract_state"`
	LLMState     ExtractState `db:"llm_state" json:"llm_state"`
	Answer       Answer       `db:"answer" json:"answer"`
	AnswerPreset Answer       `db:"answer_preset" json:"answer_preset"`
	Markers      StringList   `db:"markers" json:"markers"`
	Status       MarkStatus   `db:"status" json:"status"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// Answer is the structured answer of a Question.
type Answer struct {
	SchemaID int64        `json:"schema_id"`
	Items    []AnswerItem `json:"items"`
}

// AnswerItem is the answer to one schema field, addressed by its dotted path.
type AnswerItem struct {
	Key        string     `json:"key"`
	Value      string     `json:"value"`
	Rows       [][]string `json:"rows,omitempty"`
	Boxes      []Box      `json:"boxes,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
}

// Box locates a span of the answer on a PDF page.
type Box struct {
	Page int        `json:"page"`
	Rect [4]float64 `json:"box"`
}

// IsZero reports whether no answer has been produced.
func (a Answer) IsZero() bool {
	return a.SchemaID == 0 && len(a.Items) == 0
}

// Item returns the item with the given key, if present.
func (a Answer) Item(key string) (AnswerItem, bool) {
	for _, it := range a.Items {
		if it.Key == key {
			return it, true
		}
	}
	return AnswerItem{}, false
}

// AnswerEdit is a persisted user edit of one answer item.
type AnswerEdit struct {
	ID        int64     `db:"id" json:"id"`
	FileID    int64     `db:"file_id" json:"file_id"`
	SchemaID  int64     `db:"schema_id" json:"schema_id"`
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	Rows      Table     `db:"rows" json:"rows,omitempty"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Schema describes the expected shape of an answer.
type Schema struct {
	ID        int64         `db:"id" json:"id"`
	Name      string        `db:"name" json:"name"`
	Spec      SchemaSpec    `db:"spec" json:"spec"`
	Extractor ExtractorKind `db:"extractor" json:"extractor"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// SchemaSpec is the field tree of a schema.
type SchemaSpec struct {
	Fields []Field `json:"fields"`
}

// Field is a named, typed node of a schema.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Options  []string  `json:"options,omitempty"`
	Columns  []string  `json:"columns,omitempty"`
	Keywords []string  `json:"keywords,omitempty"`
	Required bool      `json:"required,omitempty"`
	Children []Field   `json:"children,omitempty"`
}

// FieldPath is a leaf field of a schema together with its dotted path.
type FieldPath struct {
	Path  string
	Field Field
}

// Leaves flattens the schema into its leaf fields in declaration order.
// Groups contribute their children with a "group.child" path.
func (s SchemaSpec) Leaves() []FieldPath {
	var out []FieldPath
	var walk func(prefix string, fields []Field)
	walk = func(prefix string, fields []Field) {
		for _, f := range fields {
			path := f.Name
			if prefix != "" {
				path = prefix + "." + f.Name
			}
			if f.Type == FieldGroup {
				walk(path, f.Children)
				continue
			}
			out = append(out, FieldPath{Path: path, Field: f})
		}
	}
	walk("", s.Fields)
	return out
}

// Position returns the declaration index of the leaf at path, or -1.
func (s SchemaSpec) Position(path string) int {
	for i, l := range s.Leaves() {
		if l.Path == path {
			return i
		}
	}
	return -1
}

// AuditRule configures one rule evaluated against answers of a schema.
type AuditRule struct {
	ID       int64           `db:"id" json:"id"`
	SchemaID int64           `db:"schema_id" json:"schema_id"`
	RuleKey  string          `db:"rule_key" json:"rule_key"`
	RuleName string          `db:"rule_name" json:"rule_name"`
	Kind     string          `db:"kind" json:"kind"`
	Config   json.RawMessage `db:"config" json:"config"`
	Severity string          `db:"severity" json:"severity"`
	Active   bool            `db:"active" json:"active"`
}

// AuditResult is the outcome of one rule (or judge) over one answer.
type AuditResult struct {
	ID             int64        `db:"id" json:"id"`
	FileID         int64        `db:"file_id" json:"file_id"`
	SchemaID       int64        `db:"schema_id" json:"schema_id"`
	QuestionID     int64        `db:"question_id" json:"question_id"`
	RuleKey        string       `db:"rule_key" json:"rule_key"`
	Origin         AnswerOrigin `db:"origin" json:"origin"`
	Kind           AuditKind    `db:"kind" json:"kind"`
	IsCompliant    bool         `db:"is_compliant" json:"is_compliant"`
	Suggestion     string       `db:"suggestion" json:"suggestion"`
	Reasons        StringList   `db:"reasons" json:"reasons"`
	SchemaPointers StringList   `db:"schema_pointers" json:"schema_pointers"`
	OrderingKey    int          `db:"ordering_key" json:"ordering_key"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// Project owns a tree of folders and the files inside them.
type Project struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Owner     uuid.UUID `db:"owner" json:"owner"`
	Deleted   bool      `db:"deleted" json:"deleted"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Tree is a folder inside a project.
type Tree struct {
	ID        int64  `db:"id" json:"id"`
	ProjectID int64  `db:"project_id" json:"project_id"`
	ParentID  *int64 `db:"parent_id" json:"parent_id,omitempty"`
	Name      string `db:"name" json:"name"`
}

// Apply writes the non-nil fields of upd onto f. Hashes only move forward:
// an empty hash in upd never clears a stored one.
func (f *File) Apply(upd ArtifactUpdate) {
	if upd.PDFHash != nil && *upd.PDFHash != "" {
		f.PDFHash = *upd.PDFHash
	}
	if upd.ParseHash != nil && *upd.ParseHash != "" {
		f.ParseHash = *upd.ParseHash
	}
	if upd.DocxHash != nil && *upd.DocxHash != "" {
		f.DocxHash = *upd.DocxHash
	}
	if upd.PageCount != nil {
		f.PageCount = *upd.PageCount
	}
	if len(upd.Meta) > 0 {
		f.Meta = f.Meta.Merge(upd.Meta)
	}
}
