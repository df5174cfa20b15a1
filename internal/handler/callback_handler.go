package handler

import (
	"context"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docpipe/internal/logger"
	"docpipe/internal/pipeline"
)

// CallbackVerifier checks the correlation token carried by a callback URL.
type CallbackVerifier interface {
	Verify(token string, fileID int64, contentHash string) error
}

// CallbackSink ingests parse results.
type CallbackSink interface {
	HandleCallback(ctx context.Context, in pipeline.CallbackInput) error
}

// CallbackHandler receives the parse service's completion callbacks.
type CallbackHandler struct {
	errorHandler
	verifier CallbackVerifier
	sink     CallbackSink
}

// NewCallbackHandler creates a new CallbackHandler.
func NewCallbackHandler(verifier CallbackVerifier, sink CallbackSink, log *logger.Logger) *CallbackHandler {
	return &CallbackHandler{errorHandler: errorHandler{log: log}, verifier: verifier, sink: sink}
}

// PreprocessComplete handles POST /api/v1/callbacks/:file_id/hash/:content_hash/preprocess_complete
// @Summary Parse service callback
// @Description Multipart parse result: file (parse artifact), pdf, revise_docx, origin_docx, or error_code on failure
// @Tags callbacks
// @Accept multipart/form-data
// @Produce json
// @Param file_id path int true "File ID"
// @Param content_hash path string true "Content hash the job was submitted for"
// @Param token query string true "Correlation token issued at submit time"
// @Param file formData file false "Parse artifact"
// @Param pdf formData file false "Rendered or restored PDF"
// @Param revise_docx formData file false "Colored docx"
// @Param origin_docx formData file false "Original docx"
// @Param error_code formData int false "Failure code"
// @Success 200 {object} MessageResponse "Accepted"
// @Failure 400 {object} ErrorResponseBody "Unreadable part"
// @Failure 401 {object} ErrorResponseBody "Invalid token"
// @Failure 403 {object} ErrorResponseBody "Token issued for another file"
// @Router /callbacks/{file_id}/hash/{content_hash}/preprocess_complete [post]
func (h *CallbackHandler) PreprocessComplete(c *gin.Context) {
	fileID, ok := pathID(c, "file_id")
	if !ok {
		return
	}
	hash := c.Param("content_hash")
	if err := h.verifier.Verify(c.Query("token"), fileID, hash); err != nil {
		h.HandleError(c, err)
		return
	}

	in := pipeline.CallbackInput{FileID: fileID, ContentHash: hash}
	if raw := c.PostForm("error_code"); raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			// an unknown failure code
			h.log.Warn("handler.PreprocessComplete: unparseable error_code", "file_id", fileID, "error_code", raw)
			code = -1
		}
		in.ErrorCode = code
	}

	form, err := c.MultipartForm()
	if err == nil {
		parts := map[string]*[]byte{
			"file":        &in.Parse,
			"pdf":         &in.PDF,
			"revise_docx": &in.ReviseDocx,
			"origin_docx": &in.OriginDocx,
		}
		for field, dst := range parts {
			data, err := firstPart(form, field)
			if err != nil {
				RespondError(c, http.StatusBadRequest, "INVALID_INPUT", "could not read part "+field)
				return
			}
			*dst = data
		}
	}

	if err := h.sink.HandleCallback(c.Request.Context(), in); err != nil {
		h.HandleError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "callback accepted"})
}

func firstPart(form *multipart.Form, field string) ([]byte, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, nil
	}
	return readPart(headers[0])
}
