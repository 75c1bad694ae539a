package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"predmarket/internal/service"
)

type apiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
	Meta    apiMeta   `json:"meta"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

func meta(c *gin.Context) apiMeta {
	id := c.GetString("request_id")
	if id == "" {
		id = uuid.NewString()
	}
	return apiMeta{
		RequestID: id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// RequestID assigns every request a uuid surfaced in the response envelope
// and the X-Request-ID header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func Ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, apiResponse{Success: true, Data: data, Meta: meta(c)})
}

func Fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, apiResponse{
		Success: false,
		Error:   &apiError{Code: code, Message: message},
		Meta:    meta(c),
	})
}

// FailErr translates a service error into its HTTP status; anything outside
// the taxonomy is reported as internal without leaking detail.
func FailErr(c *gin.Context, err error) {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		Fail(c, statusFor(svcErr.Code), string(svcErr.Code), svcErr.Msg)
		return
	}
	Fail(c, http.StatusInternalServerError, string(service.CodeInternal), "internal error")
}

func statusFor(code service.Code) int {
	switch code {
	case service.CodeValidation:
		return http.StatusBadRequest
	case service.CodeStateConflict:
		return http.StatusConflict
	case service.CodeNotFound:
		return http.StatusNotFound
	case service.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func uintQueryPtr(c *gin.Context, key string) *uint64 {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func strQueryPtr(c *gin.Context, key string) *string {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil
	}
	return &raw
}

func actorFrom(c *gin.Context) string {
	actor := strings.TrimSpace(c.GetHeader("X-Admin-User"))
	if actor == "" {
		actor = "admin"
	}
	return actor
}
