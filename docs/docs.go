// Package docs registers the OpenAPI description served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/files": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["files"],
                "summary": "Upload files",
                "parameters": [
                    {"type": "file", "name": "file", "in": "formData"},
                    {"type": "string", "name": "file_url", "in": "formData"},
                    {"type": "integer", "name": "tree_id", "in": "formData"},
                    {"type": "integer", "name": "schema_id", "in": "formData"},
                    {"type": "string", "name": "schema_name", "in": "formData"},
                    {"type": "string", "name": "meta", "in": "formData"},
                    {"type": "integer", "default": 0, "name": "priority", "in": "formData"},
                    {"type": "string", "default": "extract", "name": "task_kind", "in": "formData"},
                    {"type": "string", "name": "scenario", "in": "formData"}
                ],
                "responses": {
                    "201": {"description": "Files accepted", "schema": {"$ref": "#/definitions/handler.Response"}},
                    "400": {"description": "Invalid input or empty file", "schema": {"$ref": "#/definitions/handler.ErrorResponseBody"}},
                    "409": {"description": "Duplicate file name", "schema": {"$ref": "#/definitions/handler.ErrorResponseBody"}},
                    "413": {"description": "File too large", "schema": {"$ref": "#/definitions/handler.ErrorResponseBody"}},
                    "429": {"description": "Ingest queue is full", "schema": {"$ref": "#/definitions/handler.ErrorResponseBody"}}
                }
            }
        },
        "/files/status": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["files"],
                "summary": "Poll several files",
                "parameters": [{"type": "string", "name": "ids", "in": "query", "required": true}],
                "responses": {"200": {"description": "Statuses", "schema": {"$ref": "#/definitions/handler.Response"}}}
            }
        },
        "/files/{id}/status": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["files"],
                "summary": "Poll file status",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "Status", "schema": {"$ref": "#/definitions/handler.Response"}},
                    "410": {"description": "File deleted", "schema": {"$ref": "#/definitions/handler.ErrorResponseBody"}}
                }
            }
        },
        "/files/{id}/{kind}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/octet-stream"],
                "tags": ["artifacts"],
                "summary": "Download an artifact",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"enum": ["origin", "pdf", "pdfinsight", "docx", "scanned-pdf-restore"], "type": "string", "name": "kind", "in": "path", "required": true},
                    {"type": "string", "name": "Range", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "Artifact"},
                    "206": {"description": "Partial artifact"},
                    "304": {"description": "Not modified"},
                    "404": {"description": "Artifact not available", "schema": {"$ref": "#/definitions/handler.ErrorResponseBody"}},
                    "416": {"description": "Range not satisfiable"}
                }
            }
        },
        "/file/{id}/result/{format}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json", "text/csv", "application/zip"],
                "tags": ["results"],
                "summary": "Extraction result",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"enum": ["json", "csv"], "type": "string", "name": "format", "in": "path", "required": true},
                    {"type": "integer", "name": "schema_id", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Result"},
                    "422": {"description": "File not processed yet", "schema": {"$ref": "#/definitions/handler.ErrorResponseBody"}}
                }
            }
        },
        "/files/{id}/schemas": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["files"],
                "summary": "Attach schemas",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.AttachSchemasRequest"}}
                ],
                "responses": {"200": {"description": "Updated file", "schema": {"$ref": "#/definitions/handler.Response"}}}
            }
        },
        "/files/{id}/rerun": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["files"],
                "summary": "Re-run part of the pipeline",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.RerunRequest"}}
                ],
                "responses": {
                    "202": {"description": "Re-run scheduled", "schema": {"$ref": "#/definitions/handler.Response"}},
                    "429": {"description": "Re-run already in progress", "schema": {"$ref": "#/definitions/handler.ErrorResponseBody"}}
                }
            }
        },
        "/questions/{id}/answer": {
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["questions"],
                "summary": "Edit an answer",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.EditAnswerRequest"}}
                ],
                "responses": {"200": {"description": "Updated question", "schema": {"$ref": "#/definitions/handler.Response"}}}
            }
        }
    },
    "definitions": {
        "handler.Response": {
            "type": "object",
            "properties": {"status": {"type": "string", "example": "ok"}, "data": {}}
        },
        "handler.ErrorResponseBody": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "error"},
                "code": {"type": "string", "example": "NOT_FOUND"},
                "message": {"type": "string", "example": "resource not found"},
                "errors": {"type": "array", "items": {"type": "string"}}
            }
        },
        "handler.AttachSchemasRequest": {
            "type": "object",
            "required": ["schema_ids"],
            "properties": {"schema_ids": {"type": "array", "items": {"type": "integer"}}}
        },
        "handler.RerunRequest": {
            "type": "object",
            "required": ["mode"],
            "properties": {"mode": {"type": "string", "example": "predict-only"}}
        },
        "handler.EditAnswerRequest": {
            "type": "object",
            "required": ["items"],
            "properties": {
                "items": {"type": "array", "items": {"type": "object"}},
                "status": {"type": "string", "example": "finished"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "docpipe API",
	Description:      "Document ingestion pipeline: upload, parse, extract, audit.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
