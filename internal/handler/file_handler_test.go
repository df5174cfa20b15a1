package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docpipe/internal/domain"
	"docpipe/internal/handler"
	"docpipe/internal/logger"
	"docpipe/internal/middleware"
	"docpipe/internal/service"
	"docpipe/mocks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fileMocks struct {
	intake *mocks.MockIntakeService
	files  *mocks.MockFileService
	status *mocks.MockStatusService
}

func newFileHandler() (*handler.FileHandler, fileMocks) {
	m := fileMocks{
		intake: new(mocks.MockIntakeService),
		files:  new(mocks.MockFileService),
		status: new(mocks.MockStatusService),
	}
	return handler.NewFileHandler(m.intake, m.files, m.status, logger.Nop()), m
}

func decode(t *testing.T, w *httptest.ResponseRecorder) handler.APIResponse {
	t.Helper()
	var resp handler.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func testContext(method, target string, body *bytes.Buffer, params ...gin.Param) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	if body == nil {
		body = &bytes.Buffer{}
	}
	c.Request, _ = http.NewRequest(method, target, body)
	c.Params = params
	return c, w
}

func TestFileHandler_Upload_Success(t *testing.T) {
	h, m := newFileHandler()
	owner := uuid.New()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, name := range []string{"a.pdf", "b.docx"} {
		part, _ := writer.CreateFormFile("file", name)
		_, _ = part.Write([]byte("content of " + name))
	}
	_ = writer.WriteField("tree_id", "4")
	_ = writer.WriteField("schema_id", "2")
	_ = writer.WriteField("priority", "3")
	_ = writer.WriteField("task_kind", "audit")
	_ = writer.WriteField("meta", `{"ocr":true}`)
	require.NoError(t, writer.Close())

	m.intake.On("Upload", mock.Anything, mock.MatchedBy(func(in service.UploadInput) bool {
		return in.Owner == owner && len(in.Parts) == 2 &&
			in.Parts[1].Name == "b.docx" && string(in.Parts[0].Data) == "content of a.pdf" &&
			*in.TreeID == 4 && *in.SchemaID == 2 && in.Priority == 3 &&
			in.TaskKind == domain.TaskAudit && in.Meta["ocr"] == true
	})).Return([]service.UploadResult{{FileID: 10, Filename: "a.pdf"}, {FileID: 11, Filename: "b.docx"}}, nil)

	c, w := testContext(http.MethodPost, "/api/v1/files", body)
	c.Request.Header.Set("Content-Type", writer.FormDataContentType())
	c.Set(middleware.ContextKeyUserID, owner)
	h.Upload(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Len(t, resp.Data, 2)
	m.intake.AssertExpectations(t)
}

func TestFileHandler_Upload_Rejections(t *testing.T) {
	form := func(fields map[string]string) (*bytes.Buffer, string) {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		for k, v := range fields {
			_ = writer.WriteField(k, v)
		}
		_ = writer.Close()
		return body, writer.FormDataContentType()
	}

	tests := []struct {
		name   string
		fields map[string]string
		auth   bool
		want   int
		code   string
	}{
		{"no auth", map[string]string{"file_url": "http://x/a.pdf"}, false, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"no file", map[string]string{}, true, http.StatusBadRequest, "MISSING_FILE"},
		{"bad tree", map[string]string{"file_url": "http://x/a.pdf", "tree_id": "root"}, true, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad priority", map[string]string{"file_url": "http://x/a.pdf", "priority": "high"}, true, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad meta", map[string]string{"file_url": "http://x/a.pdf", "meta": "[1,2"}, true, http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, m := newFileHandler()
			body, ct := form(tt.fields)
			c, w := testContext(http.MethodPost, "/api/v1/files", body)
			c.Request.Header.Set("Content-Type", ct)
			if tt.auth {
				c.Set(middleware.ContextKeyUserID, uuid.New())
			}
			h.Upload(c)

			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.code, decode(t, w).Code)
			m.intake.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
		})
	}
}

func TestFileHandler_Upload_ServiceErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrQueueFull, http.StatusTooManyRequests},
		{domain.ErrDuplicateName, http.StatusConflict},
		{domain.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{domain.ErrEmptyUpload, http.StatusBadRequest},
		{domain.ErrSchemaNotFound, http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h, m := newFileHandler()
			m.intake.On("Upload", mock.Anything, mock.Anything).Return(nil, tt.err)

			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			_ = writer.WriteField("file_url", "https://example.com/a.pdf")
			_ = writer.Close()
			c, w := testContext(http.MethodPost, "/api/v1/files", body)
			c.Request.Header.Set("Content-Type", writer.FormDataContentType())
			c.Set(middleware.ContextKeyUserID, uuid.New())
			h.Upload(c)

			assert.Equal(t, tt.want, w.Code)
			resp := decode(t, w)
			assert.Equal(t, "error", resp.Status)
			if tt.want == http.StatusInternalServerError {
				assert.NotContains(t, w.Body.String(), "disk on fire")
			}
		})
	}
}

func TestFileHandler_Status(t *testing.T) {
	h, m := newFileHandler()
	m.status.On("Get", mock.Anything, int64(7)).Return(&service.FileStatus{FileID: 7, Status: service.StatusSuccess}, nil)
	m.status.On("Get", mock.Anything, int64(8)).Return(nil, domain.ErrFileGone)

	c, w := testContext(http.MethodGet, "/api/v1/files/7/status", nil, gin.Param{Key: "id", Value: "7"})
	h.Status(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"success"`)

	c, w = testContext(http.MethodGet, "/api/v1/files/8/status", nil, gin.Param{Key: "id", Value: "8"})
	h.Status(c)
	assert.Equal(t, http.StatusGone, w.Code)

	c, w = testContext(http.MethodGet, "/api/v1/files/x/status", nil, gin.Param{Key: "id", Value: "x"})
	h.Status(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ID", decode(t, w).Code)
}

func TestFileHandler_BatchStatus(t *testing.T) {
	h, m := newFileHandler()
	m.status.On("GetBatch", mock.Anything, []int64{1, 2}).Return([]service.FileStatus{
		{FileID: 1, Status: service.StatusProcessing},
		{FileID: 2, Status: service.StatusFailed},
	}, nil)

	c, w := testContext(http.MethodGet, "/api/v1/files/status?ids=1,%202,", nil)
	h.BatchStatus(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w).Data, 2)

	for _, q := range []string{"", "ids=", "ids=1,two"} {
		c, w = testContext(http.MethodGet, "/api/v1/files/status?"+q, nil)
		h.BatchStatus(c)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
	m.status.AssertNumberOfCalls(t, "GetBatch", 1)
}

func TestFileHandler_Rerun(t *testing.T) {
	h, m := newFileHandler()
	m.files.On("Rerun", mock.Anything, int64(3), "predict-only").Return(&domain.File{ID: 3}, nil)
	m.files.On("Rerun", mock.Anything, int64(3), "everything").Return(nil, domain.ErrInvalidRerunMode)
	m.files.On("Rerun", mock.Anything, int64(4), "parse-only").
		Return(nil, domain.NewPipelineError(domain.KindThrottled, "rerun", nil))

	tests := []struct {
		id, body string
		want     int
	}{
		{"3", `{"mode":"predict-only"}`, http.StatusAccepted},
		{"3", `{"mode":"everything"}`, http.StatusBadRequest},
		{"4", `{"mode":"parse-only"}`, http.StatusTooManyRequests},
		{"3", `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		c, w := testContext(http.MethodPost, "/api/v1/files/"+tt.id+"/rerun", bytes.NewBufferString(tt.body),
			gin.Param{Key: "id", Value: tt.id})
		c.Request.Header.Set("Content-Type", "application/json")
		h.Rerun(c)
		assert.Equal(t, tt.want, w.Code, tt.body)
	}
}

func TestFileHandler_Schemas(t *testing.T) {
	h, m := newFileHandler()
	m.files.On("AttachSchemas", mock.Anything, int64(5), []int64{1, 2}).
		Return(&domain.File{ID: 5, AttachedSchemas: domain.Int64List{1, 2}}, nil)
	m.files.On("DetachSchema", mock.Anything, int64(5), int64(2)).
		Return(&domain.File{ID: 5, AttachedSchemas: domain.Int64List{1}}, nil)

	c, w := testContext(http.MethodPost, "/api/v1/files/5/schemas", bytes.NewBufferString(`{"schema_ids":[1,2]}`),
		gin.Param{Key: "id", Value: "5"})
	c.Request.Header.Set("Content-Type", "application/json")
	h.AttachSchemas(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = testContext(http.MethodPost, "/api/v1/files/5/schemas", bytes.NewBufferString(`{"schema_ids":[]}`),
		gin.Param{Key: "id", Value: "5"})
	c.Request.Header.Set("Content-Type", "application/json")
	h.AttachSchemas(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = testContext(http.MethodDelete, "/api/v1/files/5/schemas/2", nil,
		gin.Param{Key: "id", Value: "5"}, gin.Param{Key: "schema_id", Value: "2"})
	h.DetachSchema(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `"attached_schemas":[1]`))
	m.files.AssertExpectations(t)
}

func TestFileHandler_CancelAndDelete(t *testing.T) {
	h, m := newFileHandler()
	m.files.On("Cancel", mock.Anything, int64(9)).Return(&domain.File{ID: 9, ParseState: domain.ParseStateCancelled}, nil)
	m.files.On("Cancel", mock.Anything, int64(10)).
		Return(nil, domain.NewPipelineError(domain.KindStateRejected, "cancel", nil))
	m.files.On("Delete", mock.Anything, int64(9)).Return(nil)
	m.files.On("Delete", mock.Anything, int64(11)).Return(domain.ErrNotFound)

	c, w := testContext(http.MethodPost, "/api/v1/files/9/cancel", nil, gin.Param{Key: "id", Value: "9"})
	h.Cancel(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = testContext(http.MethodPost, "/api/v1/files/10/cancel", nil, gin.Param{Key: "id", Value: "10"})
	h.Cancel(c)
	assert.Equal(t, http.StatusConflict, w.Code)

	c, w = testContext(http.MethodDelete, "/api/v1/files/9", nil, gin.Param{Key: "id", Value: "9"})
	h.Delete(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = testContext(http.MethodDelete, "/api/v1/files/11", nil, gin.Param{Key: "id", Value: "11"})
	h.Delete(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProjectHandler(t *testing.T) {
	files := new(mocks.MockFileService)
	h := handler.NewProjectHandler(files, logger.Nop())
	files.On("CancelProject", mock.Anything, int64(2)).Return(3, nil)
	files.On("DeleteProject", mock.Anything, int64(2)).Return(nil)
	files.On("CancelProject", mock.Anything, int64(404)).Return(0, domain.ErrNotFound)

	c, w := testContext(http.MethodPost, "/api/v1/projects/2/cancel", nil, gin.Param{Key: "id", Value: "2"})
	h.Cancel(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cancelled":3`)

	c, w = testContext(http.MethodDelete, "/api/v1/projects/2", nil, gin.Param{Key: "id", Value: "2"})
	h.Delete(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = testContext(http.MethodPost, "/api/v1/projects/404/cancel", nil, gin.Param{Key: "id", Value: "404"})
	h.Cancel(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuestionHandler_EditAnswer(t *testing.T) {
	questions := new(mocks.MockQuestionService)
	h := handler.NewQuestionHandler(questions, logger.Nop())
	user := uuid.New()

	questions.On("EditAnswer", mock.Anything, mock.MatchedBy(func(in service.EditAnswerInput) bool {
		return in.QuestionID == 12 && in.UserID == user && len(in.Items) == 1 &&
			in.Items[0].Key == "vendor" && in.Status == domain.MarkFinished
	})).Return(&domain.Question{ID: 12, Status: domain.MarkFinished}, nil)

	body := `{"items":[{"key":"vendor","value":"Acme Ltd"}],"status":"finished"}`
	c, w := testContext(http.MethodPut, "/api/v1/questions/12/answer", bytes.NewBufferString(body),
		gin.Param{Key: "id", Value: "12"})
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.ContextKeyUserID, user)
	h.EditAnswer(c)
	assert.Equal(t, http.StatusOK, w.Code)
	questions.AssertExpectations(t)

	c, w = testContext(http.MethodPut, "/api/v1/questions/12/answer", bytes.NewBufferString(`{"items":[]}`),
		gin.Param{Key: "id", Value: "12"})
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.ContextKeyUserID, user)
	h.EditAnswer(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
