package domain

import "strings"

// ParseState is the authoritative pipeline state of a File.
type ParseState string

const (
	ParseStatePending      ParseState = "pending"
	ParseStateCaching      ParseState = "caching"
	ParseStateParsing      ParseState = "parsing"
	ParseStateParseSuccess ParseState = "parse_success"
	ParseStatePageCached   ParseState = "page_cached"
	ParseStateComplete     ParseState = "complete"

	ParseStateFailed      ParseState = "failed"
	ParseStateOCRExpired  ParseState = "ocr_expired"
	ParseStateUnconfirmed ParseState = "unconfirmed"
	ParseStateCancelled   ParseState = "cancelled"
	ParseStateUnsupported ParseState = "unsupported"
)

// IsTerminal reports whether no further pipeline work happens without an explicit re-run.
func (s ParseState) IsTerminal() bool {
	switch s {
	case ParseStateComplete, ParseStateFailed, ParseStateOCRExpired,
		ParseStateUnconfirmed, ParseStateCancelled, ParseStateUnsupported:
		return true
	}
	return false
}

// IsError reports whether the state is one of the error outcomes.
func (s ParseState) IsError() bool {
	return s.IsTerminal() && s != ParseStateComplete
}

// TaskKind selects what the pipeline produces for a File.
type TaskKind string

const (
	TaskExtract           TaskKind = "extract"
	TaskAudit             TaskKind = "audit"
	TaskClean             TaskKind = "clean"
	TaskPDFToWord         TaskKind = "pdf-to-word"
	TaskScannedPDFRestore TaskKind = "scanned-pdf-restore"
	TaskJudge             TaskKind = "judge"
)

// ValidTaskKinds lists the accepted task kinds.
var ValidTaskKinds = map[TaskKind]bool{
	TaskExtract:           true,
	TaskAudit:             true,
	TaskClean:             true,
	TaskPDFToWord:         true,
	TaskScannedPDFRestore: true,
	TaskJudge:             true,
}

// ExtractState tracks extractor (and LLM) progress on a Question.
type ExtractState string

const (
	ExtractPending  ExtractState = "pending"
	ExtractRunning  ExtractState = "running"
	ExtractDone     ExtractState = "done"
	ExtractFailed   ExtractState = "failed"
	ExtractSkipped  ExtractState = "skipped"
	ExtractDisabled ExtractState = "disabled"
)

// Settled reports whether the auditor may run over a question in this state.
func (s ExtractState) Settled() bool {
	return s == ExtractDone || s == ExtractSkipped || s == ExtractDisabled
}

// MarkStatus is the human review state of a Question.
type MarkStatus string

const (
	MarkPending           MarkStatus = "pending"
	MarkInProgress        MarkStatus = "in-progress"
	MarkFinished          MarkStatus = "finished"
	MarkConflict          MarkStatus = "conflict"
	MarkStandardConfirmed MarkStatus = "standard-confirmed"
)

// AnswerOrigin distinguishes extractor output from the edited answer.
type AnswerOrigin string

const (
	OriginPreset AnswerOrigin = "preset"
	OriginFinal  AnswerOrigin = "final"
)

// AuditKind distinguishes rule audits from LLM judge audits.
type AuditKind string

const (
	AuditKindRule AuditKind = "rule"
	AuditKindLLM  AuditKind = "llm"
)

// RerunMode selects how much derived state a re-run invalidates.
type RerunMode string

const (
	RerunParseOnly   RerunMode = "parse-only"
	RerunPredictOnly RerunMode = "predict-only"
	RerunAuditOnly   RerunMode = "audit-only"
	RerunJudgeOnly   RerunMode = "judge-only"
)

// ParseRerunMode validates a user supplied re-run mode.
func ParseRerunMode(s string) (RerunMode, error) {
	switch m := RerunMode(strings.ToLower(strings.TrimSpace(s))); m {
	case RerunParseOnly, RerunPredictOnly, RerunAuditOnly, RerunJudgeOnly:
		return m, nil
	}
	return "", ErrInvalidRerunMode
}

// Namespace is an artifact kind in the content store.
type Namespace string

const (
	NSOriginal Namespace = "original"
	NSPDF      Namespace = "pdf"
	NSParse    Namespace = "parse"
	NSDocx     Namespace = "docx"
	NSCache    Namespace = "cache"
)

// FieldType is the type of a schema field.
type FieldType string

const (
	FieldText  FieldType = "text"
	FieldEnum  FieldType = "enum"
	FieldTable FieldType = "table"
	FieldGroup FieldType = "group"
)

// ExtractorKind selects the extractor implementation for a schema.
type ExtractorKind string

const (
	ExtractorLocal  ExtractorKind = "local"
	ExtractorRemote ExtractorKind = "remote"
)

// ArtifactKind names a downloadable artifact of a File.
type ArtifactKind string

const (
	ArtifactOrigin            ArtifactKind = "origin"
	ArtifactPDF               ArtifactKind = "pdf"
	ArtifactPDFInsight        ArtifactKind = "pdfinsight"
	ArtifactDocx              ArtifactKind = "docx"
	ArtifactScannedPDFRestore ArtifactKind = "scanned-pdf-restore"
)

// ArtifactKinds lists the artifact kinds exposed over HTTP.
var ArtifactKinds = []ArtifactKind{
	ArtifactOrigin, ArtifactPDF, ArtifactPDFInsight, ArtifactDocx, ArtifactScannedPDFRestore,
}

// Extension groups used by the converter.
var (
	WordExtensions  = map[string]bool{"doc": true, "docx": true, "rtf": true}
	ImageExtensions = map[string]bool{"png": true, "jpg": true, "jpeg": true}
	ExcelExtensions = map[string]bool{"xls": true, "xlsx": true}
	SlideExtensions = map[string]bool{"ppt": true, "pptx": true}
	HTMLExtensions  = map[string]bool{"html": true, "htm": true}
)

// Meta keys written by the pipeline.
const (
	MetaSchemaIDs       = "schema_ids"
	MetaForceAsPDF      = "force_as_pdf"
	MetaOCR             = "ocr"
	MetaForceOCRPages   = "force_ocr_pages"
	MetaOCRExpired      = "ocr_expired"
	MetaFailedReason    = "failed_reason"
	MetaFailedStage     = "failed_stage"
	MetaRestoredPDFHash = "restored_pdf_hash"
	MetaOriginDocxHash  = "origin_docx_hash"
	MetaCallbackURL     = "callback_url"
	MetaNotifyEmail     = "notify_email"
	MetaExtension       = "extension"
	MetaReparse         = "reparse"
)
