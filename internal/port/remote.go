package port

import (
	"context"

	"docpipe/internal/domain"
	"docpipe/internal/interdoc"
)

// ConvertInput carries an original upload to the format converter.
type ConvertInput struct {
	ContentHash string
	Data        []byte
	Extension   string
}

// ConvertOutput is the PDF derived from an original.
type ConvertOutput struct {
	PDFHash string
	Pages   int
}

// Converter turns originals into PDF and stores the result.
type Converter interface {
	Convert(ctx context.Context, in ConvertInput) (*ConvertOutput, error)
}

// SubmitRequest is one outbound parse request.
type SubmitRequest struct {
	FileID        int64
	ContentHash   string
	PDF           []byte
	OriginalDocx  []byte
	OCR           bool
	ForceOCRPages []int
	ReturnDocx    bool
	Priority      int
}

// ParseSubmitter sends PDFs to the remote parse service. Submit reports false
// when an identical submission is already in flight.
type ParseSubmitter interface {
	Submit(ctx context.Context, req SubmitRequest) (bool, error)
	Release(ctx context.Context, contentHash string) error
}

// ExtractInput is what an extractor sees for one (file, schema).
type ExtractInput struct {
	File   *domain.File
	Schema *domain.Schema
	Doc    *interdoc.Document
}

// Extractor produces a preset answer for one schema.
type Extractor interface {
	Extract(ctx context.Context, in ExtractInput) (*domain.Answer, error)
}

// LLMRequest is a single prompt sent to an LLM provider.
type LLMRequest struct {
	System string
	Prompt string
}

// LLMResponse is the raw completion text and the model that produced it.
type LLMResponse struct {
	Text  string
	Model string
}

// LLMClient abstracts an LLM provider (or a fallback chain of them).
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (*LLMResponse, error)
}

// FailureNotifier tells the owner of a file that processing failed.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, f *domain.File, reason string) error
}
