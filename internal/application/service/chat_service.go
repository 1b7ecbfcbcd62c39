package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/portal-gateway/internal/application/dto"
	"github.com/turtacn/portal-gateway/internal/domain/models"
	"github.com/turtacn/portal-gateway/pkg/constants"
	"github.com/turtacn/portal-gateway/pkg/errors"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

// Completer streams a chat completion, calling onDelta for every content fragment.
type Completer interface {
	Stream(ctx context.Context, messages []models.ChatMessage, onDelta func(string) error) error
}

// ChatService answers assistant questions grounded on the caller's own academic data.
// The caller's identity always comes from the session, never from the request body.
type ChatService struct {
	completer Completer
	contexts  *AcademicContextService
	logger    logger.Logger
	now       func() time.Time
}

func NewChatService(completer Completer, contexts *AcademicContextService, log logger.Logger) *ChatService {
	return &ChatService{
		completer: completer,
		contexts:  contexts,
		logger:    log.WithComponent("chat_service"),
		now:       time.Now,
	}
}

// Reply streams the assistant's answer to req as partial frames. A failure to load the academic
// context only degrades the prompt; losing the session aborts the reply.
func (s *ChatService) Reply(ctx context.Context, ps *PortalSession, req dto.ChatRequest, emit func(dto.ChatFrame) error) error {
	identity, ok := ps.Store.Identity()
	if !ok {
		return errors.ErrRequiresReauthentication("no active session")
	}
	return s.reply(ctx, ps.ID, identity, ps.Gateway, req, emit)
}

func (s *ChatService) reply(ctx context.Context, sessionID string, identity *models.Identity, q GraphQLQuerier, req dto.ChatRequest, emit func(dto.ChatFrame) error) error {
	actx, err := s.contexts.Load(ctx, sessionID, identity, q)
	if err != nil {
		if errors.IsRequiresReauthentication(err) {
			return err
		}
		actx = nil
	}

	messages := BuildChatMessages(identity, actx, req.ConversationHistory, req.Message)
	id := "msg-" + uuid.NewString()

	err = s.completer.Stream(ctx, messages, func(delta string) error {
		return emit(dto.ChatFrame{
			ID:        id,
			Role:      "assistant",
			Content:   delta,
			Timestamp: s.now().UTC().Format(time.RFC3339Nano),
			IsPartial: true,
		})
	})
	if err != nil {
		s.logger.Warn(ctx, "Chat completion failed", logger.String("error", err.Error()))
		return errors.WrapError(err, errors.ErrCodeRequestFailed, "Failed to process chat message")
	}
	return nil
}

// BuildChatMessages assembles the system prompt, the user and assistant turns of history,
// and the new message. Any other role in history is dropped.
func BuildChatMessages(identity *models.Identity, actx *models.AcademicContext, history []dto.ChatTurn, message string) []models.ChatMessage {
	messages := make([]models.ChatMessage, 0, len(history)+2)
	messages = append(messages, models.ChatMessage{Role: "system", Content: systemPrompt(identity, actx)})
	for _, turn := range history {
		if turn.Role == "user" || turn.Role == "assistant" {
			messages = append(messages, models.ChatMessage{Role: turn.Role, Content: turn.Content})
		}
	}
	return append(messages, models.ChatMessage{Role: "user", Content: message})
}

func systemPrompt(identity *models.Identity, actx *models.AcademicContext) string {
	var b strings.Builder
	b.WriteString("You are an AI academic assistant for the BetterGR academic management system.\n\n")
	b.WriteString("Security rules:\n")
	b.WriteString("- You can only VIEW information. You cannot create, modify or delete anything.\n")
	b.WriteString("- Only discuss data belonging to the current user as listed below.\n")
	b.WriteString("- If asked to change data, explain that the user must do it through the portal.\n\n")

	if actx == nil {
		fmt.Fprintf(&b, "Current user: %s (%s). Detailed academic information is not available right now.\n",
			identity.Name, identity.Kind)
		return b.String()
	}

	name := identity.Name
	email := identity.Email
	if actx.Profile != nil {
		if n := actx.Profile.FullName(); n != "" {
			name = n
		}
		if actx.Profile.Email != "" {
			email = actx.Profile.Email
		}
	}

	if actx.Kind == constants.IdentityKindStaff {
		fmt.Fprintf(&b, "Current user: staff member %s <%s>.\n", name, email)
		fmt.Fprintf(&b, "Courses taught (%d):\n", len(actx.Courses))
		for _, c := range actx.Courses {
			fmt.Fprintf(&b, "- %s (%s), %d students\n", c.Name, c.Semester, len(c.Students))
		}
		return b.String()
	}

	fmt.Fprintf(&b, "Current user: student %s <%s>.\n", name, email)
	fmt.Fprintf(&b, "Enrolled courses (%d):\n", len(actx.Courses))
	courseNames := make(map[string]string, len(actx.Courses))
	for _, c := range actx.Courses {
		courseNames[c.ID] = c.Name
		fmt.Fprintf(&b, "- %s (%s)\n", c.Name, c.Semester)
	}
	if len(actx.Grades) > 0 {
		b.WriteString("Grades:\n")
		for _, g := range actx.Grades {
			course := courseNames[g.CourseID]
			if course == "" {
				course = g.CourseID
			}
			fmt.Fprintf(&b, "- %s %s %s: %s\n", course, g.GradeType, g.ItemID, g.GradeValue)
		}
	}
	return b.String()
}
