package handlers

import (
	"net/http"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/turtacn/portal-gateway/internal/application/dto"
	"github.com/turtacn/portal-gateway/internal/application/service"
	"github.com/turtacn/portal-gateway/internal/infrastructure/monitoring"
	"github.com/turtacn/portal-gateway/internal/interfaces/http/middleware"
	"github.com/turtacn/portal-gateway/pkg/errors"
	"github.com/turtacn/portal-gateway/pkg/logger"
	"github.com/turtacn/portal-gateway/pkg/utils"
)

const streamDone = "[DONE]"

// ChatHandler streams assistant replies as Server-Sent Events.
type ChatHandler struct {
	chat    *service.ChatService
	metrics *monitoring.Metrics
	logger  logger.Logger
}

// NewChatHandler creates a ChatHandler. A nil chat service answers 503 not_configured.
func NewChatHandler(chat *service.ChatService, metrics *monitoring.Metrics, log logger.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, metrics: metrics, logger: log.WithComponent("chat_handler")}
}

// Chat handles POST /api/chat. Errors before the first frame are plain JSON responses;
// later errors are sent in-stream, always followed by [DONE].
func (h *ChatHandler) Chat(c *gin.Context) {
	if h.chat == nil {
		middleware.RespondError(c, errors.ErrNotConfigured("chat"))
		return
	}
	ps, _ := middleware.SessionFrom(c)

	var req dto.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ErrInvalidRequest("body must be a chat request").WithCause(err))
		return
	}
	if fieldErrs := utils.ValidateStruct(req); len(fieldErrs) > 0 {
		out := make([]dto.ValidationErrorDTO, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			out = append(out, dto.NewValidationError(fe.Field, fe.Tag, "", fe.Message))
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, dto.ValidationErrorResponse(out, middleware.TraceID(c)))
		return
	}

	ctx := c.Request.Context()
	started := false
	begin := func() {
		started = true
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
	}
	send := func(data interface{}) {
		c.Render(-1, sse.Event{Data: data})
		c.Writer.Flush()
	}

	err := h.chat.Reply(ctx, ps, req, func(frame dto.ChatFrame) error {
		if !started {
			begin()
		}
		send(frame)
		return ctx.Err()
	})

	switch {
	case err == nil:
		h.record("success")
	case ctx.Err() != nil:
		h.record("client_gone")
		return
	case !started:
		h.record("error")
		middleware.RespondError(c, err)
		return
	default:
		h.record("error")
		h.logger.Warn(ctx, "Chat stream failed mid-reply", logger.String("error", err.Error()))
		send(dto.ChatErrorFrame{
			Error:   "Failed to process chat message",
			Message: "The assistant stopped responding. Please try again.",
		})
	}

	if !started {
		begin()
	}
	send(streamDone)
}

func (h *ChatHandler) record(outcome string) {
	if h.metrics != nil {
		h.metrics.RecordChatStream(outcome)
	}
}
