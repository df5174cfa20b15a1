package handler

import (
	"github.com/gin-gonic/gin"

	"docpipe/internal/logger"
	"docpipe/internal/service"
)

// ProjectHandler handles project-wide operations.
type ProjectHandler struct {
	errorHandler
	files service.FileService
}

// NewProjectHandler creates a new ProjectHandler.
func NewProjectHandler(files service.FileService, log *logger.Logger) *ProjectHandler {
	return &ProjectHandler{errorHandler: errorHandler{log: log}, files: files}
}

// CancelResponse reports how many files a project cancel stopped.
type CancelResponse struct {
	Cancelled int `json:"cancelled" example:"3"`
}

// Cancel handles POST /api/v1/projects/:id/cancel
// @Summary Cancel a project
// @Description Cancels every non-terminal file of the project
// @Tags projects
// @Produce json
// @Param id path int true "Project ID"
// @Success 200 {object} Response{data=CancelResponse} "Files cancelled"
// @Failure 404 {object} ErrorResponseBody "Project not found"
// @Failure 410 {object} ErrorResponseBody "Project deleted"
// @Security BearerAuth
// @Router /projects/{id}/cancel [post]
func (h *ProjectHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	n, err := h.files.CancelProject(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	RespondOK(c, CancelResponse{Cancelled: n})
}

// Delete handles DELETE /api/v1/projects/:id
// @Summary Delete a project
// @Description Cancels the project's files and soft-deletes the project with its files
// @Tags projects
// @Produce json
// @Param id path int true "Project ID"
// @Success 200 {object} MessageResponse "Project deleted"
// @Failure 404 {object} ErrorResponseBody "Project not found"
// @Security BearerAuth
// @Router /projects/{id} [delete]
func (h *ProjectHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.files.DeleteProject(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "project deleted"})
}
