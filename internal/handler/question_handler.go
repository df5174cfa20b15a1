package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docpipe/internal/logger"
	"docpipe/internal/middleware"
	"docpipe/internal/service"
)

// QuestionHandler handles user edits of extracted answers.
type QuestionHandler struct {
	errorHandler
	questions service.QuestionService
}

// NewQuestionHandler creates a new QuestionHandler.
func NewQuestionHandler(questions service.QuestionService, log *logger.Logger) *QuestionHandler {
	return &QuestionHandler{errorHandler: errorHandler{log: log}, questions: questions}
}

// EditAnswer handles PUT /api/v1/questions/:id/answer
// @Summary Edit an answer
// @Description Persists user edits, recomputes the final answer from the preset and re-runs the audit
// @Tags questions
// @Accept json
// @Produce json
// @Param id path int true "Question ID"
// @Param body body EditAnswerRequest true "Edited items"
// @Success 200 {object} Response{data=domain.Question} "Updated question"
// @Failure 400 {object} ErrorResponseBody "Unknown key or no items"
// @Failure 404 {object} ErrorResponseBody "Question not found"
// @Failure 422 {object} ErrorResponseBody "File not processed yet"
// @Security BearerAuth
// @Router /questions/{id}/answer [put]
func (h *QuestionHandler) EditAnswer(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, err := middleware.GetUserID(c)
	if err != nil {
		RespondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user context")
		return
	}
	var req EditAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	q, err := h.questions.EditAnswer(c.Request.Context(), service.EditAnswerInput{
		QuestionID: id,
		UserID:     userID,
		Items:      req.Items,
		Status:     req.Status,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	RespondOK(c, q)
}
