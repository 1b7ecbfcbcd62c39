package dto

import (
	"time"

	"github.com/turtacn/portal-gateway/pkg/errors"
)

// APIResponse 通用 API 响应结构
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorDTO   `json:"error,omitempty"`
	LoginURL  string      `json:"login_url,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// ErrorDTO 错误信息 DTO
type ErrorDTO struct {
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Description string                 `json:"description,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// ValidationErrorDTO 验证错误 DTO
type ValidationErrorDTO struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// SuccessResponse 创建成功响应
func SuccessResponse(data interface{}, traceID string) *APIResponse {
	return &APIResponse{
		Success:   true,
		Data:      data,
		TraceID:   traceID,
		Timestamp: time.Now().Unix(),
	}
}

// ErrorResponse 创建错误响应
func ErrorResponse(err error, traceID string) *APIResponse {
	var errorDTO *ErrorDTO

	if pe, ok := errors.AsPortalError(err); ok {
		errorDTO = &ErrorDTO{
			Code:        string(pe.Code()),
			Message:     pe.Error(),
			Description: pe.Description(),
			Details:     publicDetails(pe.Metadata()),
		}
		// auth and internal failures may wrap provider text
		switch pe.Code() {
		case errors.ErrCodeRefreshFailed, errors.ErrCodeRequiresReauthentication, errors.ErrCodeInternal:
			errorDTO.Message = pe.Description()
			errorDTO.Description = ""
		}
	} else {
		errorDTO = &ErrorDTO{
			Code:    string(errors.ErrCodeInternal),
			Message: "Internal server error",
		}
	}

	return &APIResponse{
		Success:   false,
		Error:     errorDTO,
		TraceID:   traceID,
		Timestamp: time.Now().Unix(),
	}
}

// ReauthenticationResponse 创建需要重新登录的响应
func ReauthenticationResponse(err error, loginURL, traceID string) *APIResponse {
	if err == nil {
		err = errors.ErrRequiresReauthentication("no active session")
	}
	resp := ErrorResponse(err, traceID)
	resp.Error.Code = string(errors.ErrCodeRequiresReauthentication)
	resp.LoginURL = loginURL
	return resp
}

// ValidationErrorResponse 创建验证错误响应
func ValidationErrorResponse(validationErrors []ValidationErrorDTO, traceID string) *APIResponse {
	details := make(map[string]interface{})
	for _, ve := range validationErrors {
		details[ve.Field] = ve.Message
	}

	return &APIResponse{
		Success: false,
		Error: &ErrorDTO{
			Code:        string(errors.ErrCodeInvalidRequest),
			Message:     "Validation failed",
			Description: "One or more fields failed validation",
			Details:     details,
		},
		TraceID:   traceID,
		Timestamp: time.Now().Unix(),
	}
}

// NewValidationError 创建验证错误 DTO
func NewValidationError(field, tag, value, message string) ValidationErrorDTO {
	return ValidationErrorDTO{
		Field:   field,
		Tag:     tag,
		Value:   value,
		Message: message,
	}
}

// publicDetails drops metadata that could carry provider internals.
func publicDetails(md map[string]interface{}) map[string]interface{} {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(md))
	for k, v := range md {
		if k == "reason" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

//Personal.AI order the ending
