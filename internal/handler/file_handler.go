package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"docpipe/internal/domain"
	"docpipe/internal/logger"
	"docpipe/internal/middleware"
	"docpipe/internal/service"
)

// FileHandler handles upload and file management endpoints.
type FileHandler struct {
	errorHandler
	intake service.IntakeService
	files  service.FileService
	status service.StatusService
}

// NewFileHandler creates a new FileHandler.
func NewFileHandler(
	intake service.IntakeService,
	files service.FileService,
	status service.StatusService,
	log *logger.Logger,
) *FileHandler {
	return &FileHandler{
		errorHandler: errorHandler{log: log},
		intake:       intake,
		files:        files,
		status:       status,
	}
}

// Upload handles POST /api/v1/files
// @Summary Upload files
// @Description Upload one or more files (or a zip, or a file_url) into the ingestion pipeline
// @Tags files
// @Accept multipart/form-data
// @Produce json
// @Param file formData file false "File(s) to ingest; zip archives are expanded"
// @Param file_url formData string false "URL the server fetches instead of an uploaded file"
// @Param tree_id formData int false "Target folder"
// @Param schema_id formData int false "Schema to extract"
// @Param schema_name formData string false "Schema to extract, by name"
// @Param meta formData string false "JSON object of free-form keys, including schema_ids"
// @Param priority formData int false "Scheduling priority 0 (first) to 9" default(0)
// @Param task_kind formData string false "extract, audit, clean, pdf-to-word, scanned-pdf-restore or judge" default(extract)
// @Param scenario formData string false "LLM judge scenario"
// @Success 201 {object} Response{data=[]service.UploadResult} "Files accepted"
// @Failure 400 {object} ErrorResponseBody "Invalid input or empty file"
// @Failure 401 {object} ErrorResponseBody "Unauthorized"
// @Failure 404 {object} ErrorResponseBody "Schema or folder not found"
// @Failure 409 {object} ErrorResponseBody "Duplicate file name"
// @Failure 413 {object} ErrorResponseBody "File too large"
// @Failure 429 {object} ErrorResponseBody "Ingest queue is full"
// @Security BearerAuth
// @Router /files [post]
func (h *FileHandler) Upload(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		RespondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user context")
		return
	}

	input := service.UploadInput{
		Owner:      userID,
		FileURL:    strings.TrimSpace(c.PostForm("file_url")),
		SchemaName: strings.TrimSpace(c.PostForm("schema_name")),
		TaskKind:   domain.TaskKind(c.PostForm("task_kind")),
		Scenario:   c.PostForm("scenario"),
	}
	if input.TreeID, err = optionalID(c.PostForm("tree_id")); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_INPUT", "tree_id must be an integer")
		return
	}
	if input.SchemaID, err = optionalID(c.PostForm("schema_id")); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_INPUT", "schema_id must be an integer")
		return
	}
	if p := c.PostForm("priority"); p != "" {
		if input.Priority, err = strconv.Atoi(p); err != nil {
			RespondError(c, http.StatusBadRequest, "INVALID_INPUT", "priority must be an integer")
			return
		}
	}
	if raw := c.PostForm("meta"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input.Meta); err != nil {
			RespondError(c, http.StatusBadRequest, "INVALID_INPUT", "meta must be a JSON object")
			return
		}
	}

	if form, err := c.MultipartForm(); err == nil {
		for _, fh := range form.File["file"] {
			data, err := readPart(fh)
			if err != nil {
				RespondError(c, http.StatusBadRequest, "INVALID_INPUT", "could not read uploaded file")
				return
			}
			input.Parts = append(input.Parts, service.UploadPart{Name: fh.Filename, Data: data})
		}
	}
	if len(input.Parts) == 0 && input.FileURL == "" {
		RespondError(c, http.StatusBadRequest, "MISSING_FILE", "file or file_url is required")
		return
	}

	results, err := h.intake.Upload(c.Request.Context(), input)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	RespondCreated(c, results)
}

// Status handles GET /api/v1/files/:id/status
// @Summary Poll file status
// @Description Processing status of a file: processing, failed or success, with the raw states
// @Tags files
// @Produce json
// @Param id path int true "File ID"
// @Success 200 {object} Response{data=service.FileStatus} "Status"
// @Failure 404 {object} ErrorResponseBody "File not found"
// @Failure 410 {object} ErrorResponseBody "File deleted"
// @Security BearerAuth
// @Router /files/{id}/status [get]
func (h *FileHandler) Status(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	st, err := h.status.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	RespondOK(c, st)
}

// BatchStatus handles GET /api/v1/files/status?ids=1,2
// @Summary Poll several files
// @Tags files
// @Produce json
// @Param ids query string true "Comma separated file IDs"
// @Success 200 {object} Response{data=[]service.FileStatus} "Statuses"
// @Failure 400 {object} ErrorResponseBody "Invalid ids"
// @Security BearerAuth
// @Router /files/status [get]
func (h *FileHandler) BatchStatus(c *gin.Context) {
	var ids []int64
	for _, s := range strings.Split(c.Query("ids"), ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "INVALID_INPUT", fmt.Sprintf("invalid file id %q", s))
			return
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		RespondError(c, http.StatusBadRequest, "INVALID_INPUT", "ids is required")
		return
	}
	out, err := h.status.GetBatch(c.Request.Context(), ids)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	RespondOK(c, out)
}

// AttachSchemas handles POST /api/v1/files/:id/schemas
// @Summary Attach schemas
// @Description Attach schemas to a file; extraction starts right away when the file is already processed
// @Tags files
// @Accept json
// @Produce json
// @Param id path int true "File ID"
// @Param body body AttachSchemasRequest true "Schemas to attach"
// @Success 200 {object} Response{data=domain.File} "Updated file"
// @Failure 400 {object} ErrorResponseBody "Invalid input"
// @Failure 404 {object} ErrorResponseBody "File or schema not found"
// @Security BearerAuth
// @Router /files/{id}/schemas [post]
func (h *FileHandler) AttachSchemas(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req AttachSchemasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_INPUT", "schema_ids is required")
		return
	}
	f, err := h.files.AttachSchemas(c.Request.Context(), id, req.SchemaIDs)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	RespondOK(c, f)
}

// DetachSchema handles DELETE /api/v1/files/:id/schemas/:schema_id
// @Summary Detach a schema
// @Description Detach a schema; its question and audit results are removed
// @Tags files
// @Produce json
// @Param id path int true "File ID"
// @Param schema_id path int true "Schema ID"
// @Success 200 {object} Response{data=domain.File} "Updated file"
// @Failure 404 {object} ErrorResponseBody "File not found"
// @Security BearerAuth
// @Router /files/{id}/schemas/{schema_id} [delete]
func (h *FileHandler) DetachSchema(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	schemaID, ok := pathID(c, "schema_id")
	if !ok {
		return
	}
	f, err := h.files.DetachSchema(c.Request.Context(), id, schemaID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	RespondOK(c, f)
}

// Rerun handles POST /api/v1/files/:id/rerun
// @Summary Re-run part of the pipeline
// @Tags files
// @Accept json
// @Produce json
// @Param id path int true "File ID"
// @Param body body RerunRequest true "Re-run mode"
// @Success 202 {object} Response{data=domain.File} "Re-run scheduled"
// @Failure 400 {object} ErrorResponseBody "Invalid mode"
// @Failure 409 {object} ErrorResponseBody "File not in a re-runnable state"
// @Failure 429 {object} ErrorResponseBody "Re-run already in progress"
// @Security BearerAuth
// @Router /files/{id}/rerun [post]
func (h *FileHandler) Rerun(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req RerunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_INPUT", "mode is required")
		return
	}
	f, err := h.files.Rerun(c.Request.Context(), id, req.Mode)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, APIResponse{Status: statusOK, Data: f})
}

// Cancel handles POST /api/v1/files/:id/cancel
// @Summary Cancel processing
// @Tags files
// @Produce json
// @Param id path int true "File ID"
// @Success 200 {object} Response{data=domain.File} "Cancelled file"
// @Failure 409 {object} ErrorResponseBody "File already finished"
// @Security BearerAuth
// @Router /files/{id}/cancel [post]
func (h *FileHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	f, err := h.files.Cancel(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	RespondOK(c, f)
}

// Delete handles DELETE /api/v1/files/:id
// @Summary Delete a file
// @Description Cancels any pipeline work and soft-deletes the file
// @Tags files
// @Produce json
// @Param id path int true "File ID"
// @Success 200 {object} MessageResponse "File deleted"
// @Failure 404 {object} ErrorResponseBody "File not found"
// @Failure 410 {object} ErrorResponseBody "File already deleted"
// @Security BearerAuth
// @Router /files/{id} [delete]
func (h *FileHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.files.Delete(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "file deleted"})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// pathID parses an integer path parameter, writing a 400 on failure.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		RespondError(c, http.StatusBadRequest, "INVALID_ID", fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

func optionalID(s string) (*int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
