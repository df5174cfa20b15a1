package handler

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"docpipe/internal/domain"
	"docpipe/internal/logger"
	"docpipe/internal/service"
)

// ArtifactHandler streams stored artifacts and renders results.
type ArtifactHandler struct {
	errorHandler
	artifacts service.ArtifactService
	results   service.ResultService
}

// NewArtifactHandler creates a new ArtifactHandler.
func NewArtifactHandler(artifacts service.ArtifactService, results service.ResultService, log *logger.Logger) *ArtifactHandler {
	return &ArtifactHandler{errorHandler: errorHandler{log: log}, artifacts: artifacts, results: results}
}

// Artifact returns a handler for GET|HEAD /api/v1/files/:id/<kind>
// @Summary Download an artifact
// @Description Streams the original upload, converted PDF, parse artifact (pdfinsight), docx or restored scan. Honors Range, If-None-Match and If-Modified-Since.
// @Tags artifacts
// @Produce octet-stream
// @Param id path int true "File ID"
// @Param Range header string false "Byte range, e.g. bytes=0-1023"
// @Success 200 {file} binary "Artifact"
// @Success 206 {file} binary "Partial artifact"
// @Success 304 "Not modified"
// @Failure 404 {object} ErrorResponseBody "Artifact not available"
// @Failure 410 {object} ErrorResponseBody "File deleted"
// @Failure 416 "Range not satisfiable"
// @Security BearerAuth
// @Router /files/{id}/origin [get]
// @Router /files/{id}/pdf [get]
// @Router /files/{id}/pdfinsight [get]
// @Router /files/{id}/docx [get]
// @Router /files/{id}/scanned-pdf-restore [get]
func (h *ArtifactHandler) Artifact(kind domain.ArtifactKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		art, err := h.artifacts.Open(c.Request.Context(), id, kind)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		defer func() { _ = art.Body.Close() }()

		content, ok := art.Body.(io.ReadSeeker)
		if !ok {
			data, err := io.ReadAll(art.Body)
			if err != nil {
				h.HandleError(c, fmt.Errorf("artifact %s of file %d: %w", kind, id, err))
				return
			}
			content = bytes.NewReader(data)
		}

		// A range covering the whole body is answered as a plain 200.
		if c.GetHeader("Range") == "bytes=0-" {
			c.Request.Header.Del("Range")
		}
		c.Header("ETag", art.ETag)
		c.Header("Content-Type", art.ContentType)
		c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": art.Name}))
		http.ServeContent(c.Writer, c.Request, art.Name, art.ModTime, content)
	}
}

// Result handles GET /api/v1/file/:id/result/:format
// @Summary Extraction result
// @Description Answers and audit results as JSON, or CSV (one schema) / zip of CSVs (all schemas)
// @Tags results
// @Produce json
// @Produce text/csv
// @Produce application/zip
// @Param id path int true "File ID"
// @Param format path string true "json or csv"
// @Param schema_id query int false "Restrict to one schema"
// @Success 200 {object} Response{data=service.FileResult} "Result"
// @Failure 400 {object} ErrorResponseBody "Unknown format"
// @Failure 422 {object} ErrorResponseBody "File not processed yet"
// @Security BearerAuth
// @Router /file/{id}/result/{format} [get]
func (h *ArtifactHandler) Result(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	schemaID, err := optionalID(c.Query("schema_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_INPUT", "schema_id must be an integer")
		return
	}

	switch c.Param("format") {
	case "json":
		res, err := h.results.JSON(c.Request.Context(), id, schemaID)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		RespondOK(c, res)
	case "csv":
		exp, err := h.results.CSV(c.Request.Context(), id, schemaID)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": exp.Filename}))
		c.Data(http.StatusOK, exp.ContentType, exp.Data)
	default:
		RespondError(c, http.StatusBadRequest, "INVALID_FORMAT", "format must be json or csv")
	}
}
