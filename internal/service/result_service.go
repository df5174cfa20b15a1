package service

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"sort"

	"docpipe/internal/csvexport"
	"docpipe/internal/domain"
	"docpipe/internal/port"
)

// SchemaResult is the answer and audits of one schema.
type SchemaResult struct {
	SchemaID     int64                `json:"schema_id"`
	SchemaName   string               `json:"schema_name"`
	QuestionID   int64                `json:"question_id"`
	ExtractState domain.ExtractState  `json:"extract_state"`
	Answer       domain.Answer        `json:"answer"`
	Preset       domain.Answer        `json:"preset"`
	Audits       []domain.AuditResult `json:"audits"`
}

// FileResult is the JSON result of a file.
type FileResult struct {
	FileID     int64             `json:"file_id"`
	Name       string            `json:"name"`
	ParseState domain.ParseState `json:"parse_state"`
	Schemas    []SchemaResult    `json:"schemas"`
}

// Export is a rendered download.
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ResultService renders extraction results.
type ResultService interface {
	JSON(ctx context.Context, fileID int64, schemaID *int64) (*FileResult, error)
	CSV(ctx context.Context, fileID int64, schemaID *int64) (*Export, error)
}

type resultService struct {
	files     port.FileRepository
	questions port.QuestionRepository
	schemas   port.SchemaRepository
	audits    port.AuditRepository
}

// NewResultService creates a new ResultService implementation.
func NewResultService(
	files port.FileRepository,
	questions port.QuestionRepository,
	schemas port.SchemaRepository,
	audits port.AuditRepository,
) ResultService {
	return &resultService{files: files, questions: questions, schemas: schemas, audits: audits}
}

type answered struct {
	question domain.Question
	schema   *domain.Schema
}

// load returns the file with the questions selected by schemaID. Results
// exist only for complete files.
func (s *resultService) load(ctx context.Context, fileID int64, schemaID *int64) (*domain.File, []answered, error) {
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if f.Deleted {
		return nil, nil, domain.ErrFileGone
	}
	if f.ParseState != domain.ParseStateComplete {
		return nil, nil, fmt.Errorf("%w: file %d is %s", domain.ErrNotReady, f.ID, f.ParseState)
	}

	var qs []domain.Question
	if schemaID != nil {
		q, err := s.questions.GetFor(ctx, fileID, *schemaID)
		if err != nil {
			return nil, nil, err
		}
		qs = []domain.Question{*q}
	} else if qs, err = s.questions.ListByFile(ctx, fileID); err != nil {
		return nil, nil, fmt.Errorf("result.load: %w", err)
	}
	sort.Slice(qs, func(i, j int) bool { return qs[i].SchemaID < qs[j].SchemaID })

	out := make([]answered, 0, len(qs))
	for _, q := range qs {
		sc, err := s.schemas.GetByID(ctx, q.SchemaID)
		if err != nil {
			return nil, nil, fmt.Errorf("result.load: schema %d: %w", q.SchemaID, err)
		}
		out = append(out, answered{question: q, schema: sc})
	}
	return f, out, nil
}

func (s *resultService) JSON(ctx context.Context, fileID int64, schemaID *int64) (*FileResult, error) {
	f, qs, err := s.load(ctx, fileID, schemaID)
	if err != nil {
		return nil, err
	}
	audits, err := s.audits.ListByFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("result.JSON: %w", err)
	}
	bySchema := map[int64][]domain.AuditResult{}
	for _, a := range audits {
		bySchema[a.SchemaID] = append(bySchema[a.SchemaID], a)
	}

	res := &FileResult{FileID: f.ID, Name: f.Name, ParseState: f.ParseState, Schemas: make([]SchemaResult, 0, len(qs))}
	for _, a := range qs {
		answer := a.question.Answer
		if answer.IsZero() {
			answer = a.question.AnswerPreset
		}
		schemaAudits := bySchema[a.schema.ID]
		if schemaAudits == nil {
			schemaAudits = []domain.AuditResult{}
		}
		res.Schemas = append(res.Schemas, SchemaResult{
			SchemaID:     a.schema.ID,
			SchemaName:   a.schema.Name,
			QuestionID:   a.question.ID,
			ExtractState: a.question.ExtractState,
			Answer:       answer,
			Preset:       a.question.AnswerPreset,
			Audits:       schemaAudits,
		})
	}
	return res, nil
}

// CSV renders one schema as a CSV file, or every schema as a zip of CSVs
// when schemaID is nil.
func (s *resultService) CSV(ctx context.Context, fileID int64, schemaID *int64) (*Export, error) {
	f, qs, err := s.load(ctx, fileID, schemaID)
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("%w: file %d has no schemas attached", domain.ErrNotFound, fileID)
	}

	if schemaID != nil {
		data, err := renderCSV(f, qs[0])
		if err != nil {
			return nil, err
		}
		return &Export{
			Filename:    csvexport.BuildFilename(f.Name, qs[0].schema.Name, "csv"),
			ContentType: "text/csv; charset=utf-8",
			Data:        data,
		}, nil
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, a := range qs {
		data, err := renderCSV(f, a)
		if err != nil {
			return nil, err
		}
		w, err := zw.Create(csvexport.BuildFilename(f.Name, a.schema.Name, "csv"))
		if err != nil {
			return nil, fmt.Errorf("result.CSV: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("result.CSV: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("result.CSV: %w", err)
	}
	return &Export{
		Filename:    csvexport.BuildFilename(f.Name, "", "zip"),
		ContentType: "application/zip",
		Data:        buf.Bytes(),
	}, nil
}

func renderCSV(f *domain.File, a answered) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(csvexport.BOM)
	w := csvexport.NewWriter(&buf, a.schema)
	if err := w.WriteHeader(); err != nil {
		return nil, fmt.Errorf("result.CSV: %w", err)
	}
	q := a.question
	if q.Answer.IsZero() {
		q.Answer = q.AnswerPreset
	}
	if err := w.WriteAnswer(f, &q); err != nil {
		return nil, fmt.Errorf("result.CSV: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("result.CSV: %w", err)
	}
	return buf.Bytes(), nil
}
