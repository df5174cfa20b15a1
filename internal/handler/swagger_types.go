package handler

import (
	"docpipe/internal/domain"
	"docpipe/internal/service"
)

// Swagger type definitions for API documentation.
// These types are used by swag to generate OpenAPI documentation.

// --- Request Types ---

// AttachSchemasRequest represents the attach schemas request body.
type AttachSchemasRequest struct {
	SchemaIDs []int64 `json:"schema_ids" binding:"required,min=1" example:"1,2"`
}

// RerunRequest represents the re-run request body.
type RerunRequest struct {
	Mode string `json:"mode" binding:"required" example:"predict-only"`
}

// EditAnswerRequest represents the answer edit request body.
type EditAnswerRequest struct {
	Items  []service.EditItem `json:"items" binding:"required,min=1,dive"`
	Status domain.MarkStatus  `json:"status" example:"finished"`
}

// --- Response Types ---

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Error  string `json:"error,omitempty" example:"database not reachable"`
}

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Status string `json:"status" example:"ok"`
	Data   struct {
		Message string `json:"message" example:"file deleted"`
	} `json:"data"`
}

// --- Generic Response Wrappers ---

// Response wraps a successful response with data.
type Response struct {
	Status string      `json:"status" example:"ok"`
	Data   interface{} `json:"data,omitempty"`
}

// ErrorResponseBody wraps an error response.
type ErrorResponseBody struct {
	Status  string   `json:"status" example:"error"`
	Code    string   `json:"code" example:"NOT_FOUND"`
	Message string   `json:"message" example:"resource not found"`
	Errors  []string `json:"errors,omitempty"`
}
