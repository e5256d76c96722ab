package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/ai"
)

const (
	systemPrompt = "You are a helpful assistant."
	refinePrompt = "Speak as an experienced medical professional. Exclude non-technical related content and provide more detail about technical content: %s"
)

type Models struct {
	Provider string
	Chat     string
	Classify string
}

// Service runs a conversation turn end to end: persist the user turn, ask the
// model, persist the answer.
type Service struct {
	history     *History
	registry    *ai.Registry
	transcriber ai.Transcriber
	models      Models
	log         zerolog.Logger
}

func NewService(history *History, registry *ai.Registry, transcriber ai.Transcriber, models Models, log zerolog.Logger) *Service {
	if models.Provider == "" {
		models.Provider = "openai"
	}
	if models.Chat == "" {
		models.Chat = "gpt-4o"
	}
	if models.Classify == "" {
		models.Classify = "gpt-4"
	}
	return &Service{
		history:     history,
		registry:    registry,
		transcriber: transcriber,
		models:      models,
		log:         log.With().Str("component", "chat-service").Logger(),
	}
}

func (s *Service) History() *History { return s.history }

type SendRequest struct {
	UserID      string
	PatientID   string
	SessionTime string
	Text        string
	Image       *Attachment
}

// SendMessage stores the user turn, asks the model for an answer over the
// whole session, has the answer rewritten in a clinical register and stores
// that as the assistant turn.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (string, error) {
	const op = "chat.SendMessage"

	session := NormalizeSessionTime(req.SessionTime)
	userTurn := &Turn{
		UserID:      req.UserID,
		PatientID:   req.PatientID,
		SessionTime: session,
		Role:        RoleUser,
		Message:     req.Text,
	}
	if req.Image != nil {
		key, err := ObjectKey(req.UserID, req.PatientID, session, req.Image.Filename)
		if err != nil {
			return "", newError(KindInvalid, op, err)
		}
		userTurn.ImageKey = &key
	}

	// 1) store user turn
	if err := s.history.SaveTurn(ctx, userTurn, req.Image); err != nil {
		return "", err
	}

	// 2) rebuild the session history, image turns carry signed URLs
	views, err := s.history.LoadTurns(ctx, req.UserID, req.PatientID, session)
	if err != nil {
		return "", err
	}
	providerMsgs := make([]ai.Message, 0, len(views)+1)
	providerMsgs = append(providerMsgs, ai.Message{Role: RoleDeveloper, Content: systemPrompt})
	for _, v := range views {
		m := ai.Message{Role: v.Role, Content: v.Message}
		if v.HasImage() {
			m.ImageURL = v.ImageKey
		}
		providerMsgs = append(providerMsgs, m)
	}

	provider, err := s.registry.Get(ctx, s.models.Provider, s.models.Chat)
	if err != nil {
		return "", newError(KindInternal, op, err)
	}

	// 3) first pass over the conversation
	draft, err := provider.Chat(ctx, providerMsgs, ai.WithTemperature(1))
	if err != nil {
		return "", newError(KindProvider, op, err)
	}

	// 4) second pass rewrites the draft
	reply, err := provider.Chat(ctx,
		[]ai.Message{{Role: RoleDeveloper, Content: fmt.Sprintf(refinePrompt, draft)}},
		ai.WithTemperature(1),
	)
	if err != nil {
		return "", newError(KindProvider, op, err)
	}

	// 5) store assistant turn
	if err := s.history.SaveTurn(ctx, &Turn{
		UserID:      req.UserID,
		PatientID:   req.PatientID,
		SessionTime: session,
		Role:        RoleAssistant,
		Message:     reply,
	}, nil); err != nil {
		return "", err
	}

	s.log.Debug().
		Str("user_id", req.UserID).
		Str("patient_id", req.PatientID).
		Str("session_time", session).
		Int("history", len(views)).
		Msg("assistant reply stored")
	return reply, nil
}

// Classify returns which of items text is about, or ai.NoMatch.
func (s *Service) Classify(ctx context.Context, text string, items []string) (string, error) {
	const op = "chat.Classify"
	if strings.TrimSpace(text) == "" {
		return "", newError(KindInvalid, op, errors.New("text is required"))
	}
	if len(items) == 0 {
		return "", newError(KindInvalid, op, errors.New("item list is required"))
	}

	provider, err := s.registry.Get(ctx, s.models.Provider, s.models.Classify)
	if err != nil {
		return "", newError(KindInternal, op, err)
	}
	match, err := ai.MatchItem(ctx, provider, text, items)
	if err != nil {
		return "", newError(KindProvider, op, err)
	}
	return match, nil
}

// Transcribe converts an audio recording to text.
func (s *Service) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	const op = "chat.Transcribe"
	if s.transcriber == nil {
		return "", newError(KindUnavailable, op, errors.New("no transcriber configured"))
	}
	text, err := s.transcriber.Transcribe(ctx, filename, audio)
	if err != nil {
		return "", newError(KindProvider, op, err)
	}
	return text, nil
}
