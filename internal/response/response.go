package response

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-portal/internal/apperror"
)

// Response is the standardized API response envelope.
type Response struct {
	Data     interface{} `json:"data"`
	Error    *ErrorBody  `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// ErrorBody represents a structured error response.
type ErrorBody struct {
	Code    apperror.ErrCode  `json:"code"`
	Kind    apperror.Kind     `json:"kind,omitempty"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Metadata includes request tracing and timing.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
	Count     *int   `json:"count,omitempty"`
}

// ────────────────────────────────────────────────────────────────────────────
// Helper builders
// ────────────────────────────────────────────────────────────────────────────

// Success sends a successful JSON response with the given status code and data.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Data:     data,
		Metadata: buildMetadata(c),
	})
}

// SuccessWithCount sends a list response carrying the item count in metadata.
func SuccessWithCount(c *gin.Context, statusCode int, data interface{}, count int) {
	meta := buildMetadata(c)
	meta.Count = &count
	c.JSON(statusCode, Response{
		Data:     data,
		Metadata: meta,
	})
}

// Fail sends an error response with an error code and no field-level details.
func Fail(c *gin.Context, statusCode int, code apperror.ErrCode) {
	c.JSON(statusCode, Response{
		Error:    &ErrorBody{Code: code, Message: apperror.GetMessage(code)},
		Metadata: buildMetadata(c),
	})
}

// FailWithFields sends an error response with field-level validation details.
func FailWithFields(c *gin.Context, statusCode int, code apperror.ErrCode, fields map[string]string) {
	c.JSON(statusCode, Response{
		Error:    &ErrorBody{Code: code, Message: apperror.GetMessage(code), Fields: fields},
		Metadata: buildMetadata(c),
	})
}

// FailErr maps any error to a status code and envelope. Errors outside the
// apperror taxonomy become 500 INTERNAL_ERROR without leaking details.
func FailErr(c *gin.Context, err error) {
	status, body := errorBody(err)
	c.JSON(status, Response{Error: body, Metadata: buildMetadata(c)})
}

// AbortFail aborts the middleware chain and sends an error response.
func AbortFail(c *gin.Context, statusCode int, code apperror.ErrCode) {
	c.AbortWithStatusJSON(statusCode, Response{
		Error:    &ErrorBody{Code: code, Message: apperror.GetMessage(code)},
		Metadata: buildMetadata(c),
	})
}

// AbortErr aborts the middleware chain with the mapping of FailErr.
func AbortErr(c *gin.Context, err error) {
	status, body := errorBody(err)
	c.AbortWithStatusJSON(status, Response{Error: body, Metadata: buildMetadata(c)})
}

// StatusOf returns the HTTP status FailErr would use for err.
func StatusOf(err error) int {
	status, _ := errorBody(err)
	return status
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ────────────────────────────────────────────────────────────────────────────

func errorBody(err error) (int, *ErrorBody) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, &ErrorBody{
			Code:    apperror.ErrInternal,
			Message: apperror.GetMessage(apperror.ErrInternal),
		}
	}

	body := &ErrorBody{
		Code:    appErr.Code,
		Kind:    appErr.Kind,
		Message: appErr.Message(),
		Fields:  appErr.Fields,
	}

	switch appErr.Kind {
	case apperror.KindValidation:
		if appErr.Code == apperror.ErrSubmissionInFlight || appErr.Code == apperror.ErrExamAlreadyActive {
			return http.StatusConflict, body
		}
		return http.StatusBadRequest, body
	case apperror.KindSessionInvalid:
		switch appErr.Code {
		case apperror.ErrNotAuthenticated, apperror.ErrTokenExpired, apperror.ErrTokenInvalid:
			return http.StatusUnauthorized, body
		}
		return http.StatusGone, body
	case apperror.KindDataIntegrity:
		return http.StatusUnprocessableEntity, body
	case apperror.KindTransport:
		// Pass the backend's client errors through; everything else is
		// an upstream failure.
		if appErr.Status >= 400 && appErr.Status < 500 {
			return appErr.Status, body
		}
		return http.StatusBadGateway, body
	}
	return http.StatusInternalServerError, body
}

func buildMetadata(c *gin.Context) Metadata {
	reqID, _ := c.Get(ContextKeyRequestID)
	id, ok := reqID.(string)
	if !ok || id == "" {
		id = uuid.New().String() // Fallback if middleware not applied
	}
	return Metadata{
		RequestID: id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
