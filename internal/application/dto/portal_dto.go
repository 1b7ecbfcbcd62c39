package dto

import (
	"time"

	"github.com/turtacn/portal-gateway/internal/domain/models"
)

// SessionResponse 会话状态响应 DTO
type SessionResponse struct {
	Authenticated bool             `json:"authenticated"`
	Identity      *models.Identity `json:"identity,omitempty"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
	ExpiresIn     int64            `json:"expires_in,omitempty"`
}

// NewSessionResponse builds the response for an optional session.
func NewSessionResponse(session *models.Session, identity *models.Identity, now time.Time) *SessionResponse {
	if session == nil || identity == nil {
		return &SessionResponse{Authenticated: false}
	}
	expiry := session.Expiry.UTC()
	return &SessionResponse{
		Authenticated: true,
		Identity:      identity,
		ExpiresAt:     &expiry,
		ExpiresIn:     int64(session.RemainingValidity(now).Seconds()),
	}
}

// ChatTurn 对话历史中的一轮
type ChatTurn struct {
	Role    string `json:"role" validate:"required"`
	Content string `json:"content" validate:"max=8000"`
}

// ChatRequest 聊天请求 DTO
type ChatRequest struct {
	Message             string     `json:"message" validate:"required,min=1,max=4000"`
	ConversationHistory []ChatTurn `json:"conversationHistory" validate:"max=50,dive"`
}

// ChatFrame is one SSE data frame of an assistant reply.
type ChatFrame struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	IsPartial bool   `json:"isPartial"`
}

// ChatErrorFrame is sent in-stream when the completion fails after headers were written.
type ChatErrorFrame struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
