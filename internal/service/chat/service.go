package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/soullink/backend/internal/model/chat"
	"github.com/zhouzirui/soullink/backend/internal/model/identity"
	"github.com/zhouzirui/soullink/backend/internal/model/persona"
	"github.com/zhouzirui/soullink/backend/internal/service/events"
	"github.com/zhouzirui/soullink/backend/internal/service/quota"
	"github.com/zhouzirui/soullink/backend/internal/service/session"
)

const greetingID = "init"

var (
	ErrPersonaRequired = errors.New("persona id is required")
	ErrPersonaNotFound = errors.New("persona not found")
	ErrEmptyMessage    = errors.New("message needs text or an attachment")
	ErrSessionNotFound = errors.New("session not found")
)

// SendRequest is one user turn. An empty SessionID starts a new session.
type SendRequest struct {
	SessionID  string           `json:"sessionId"`
	PersonaID  string           `json:"personaId"`
	Text       string           `json:"text"`
	Attachment *chat.Attachment `json:"attachment,omitempty"`
}

// SendResult carries the saved transcript and the allowance that admitted it.
type SendResult struct {
	Session  chat.Session   `json:"session"`
	Decision quota.Decision `json:"quota"`
	User     identity.User  `json:"user"`
}

// Service runs the conversation flow: admit through the quota tracker,
// append the turn, autosave the transcript and notify live clients.
type Service struct {
	sessions *session.Service
	tracker  *quota.Tracker
	personas persona.Store
	hub      *events.Hub
	now      func() time.Time
	log      *logrus.Entry
}

// NewService wires the conversation flow. hub may be nil.
func NewService(sessions *session.Service, tracker *quota.Tracker, personas persona.Store, hub *events.Hub) *Service {
	return &Service{
		sessions: sessions,
		tracker:  tracker,
		personas: personas,
		hub:      hub,
		now:      time.Now,
		log:      logrus.WithField("component", "chat"),
	}
}

// Send admits and stores one user message. When the guest allowance is used
// up it returns quota.ErrLimitReached and the decision, and nothing is stored.
func (s *Service) Send(ctx context.Context, userID string, req SendRequest) (SendResult, error) {
	req.PersonaID = strings.TrimSpace(req.PersonaID)
	if req.PersonaID == "" {
		return SendResult{}, ErrPersonaRequired
	}
	p, ok := s.personas.FindByID(req.PersonaID)
	if !ok {
		return SendResult{}, ErrPersonaNotFound
	}

	message := chat.Message{
		ID:         uuid.NewString(),
		Role:       chat.RoleUser,
		Text:       strings.TrimSpace(req.Text),
		Attachment: req.Attachment,
	}
	if !message.Sendable() {
		return SendResult{}, ErrEmptyMessage
	}

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	var (
		user     identity.User
		decision quota.Decision
	)
	// The transcript stays locked from read to write so concurrent sends to
	// one session all land, and a refused send never touches it.
	saved, err := s.sessions.For(userID).Update(ctx, req.SessionID, func(current chat.Session, found bool) (chat.Session, error) {
		var err error
		user, decision, err = s.tracker.Admit(ctx, userID)
		if err != nil {
			return chat.Session{}, err
		}

		now := s.now().UnixMilli()
		var history []chat.Message
		if found {
			history = append(history, current.Messages...)
		}
		if len(history) == 0 {
			history = []chat.Message{{
				ID:        greetingID,
				Role:      chat.RoleModel,
				Text:      p.OpeningLine,
				Timestamp: now,
			}}
		}
		message.Timestamp = now
		history = append(history, message)
		return chat.NewSession(req.SessionID, req.PersonaID, history, now), nil
	})
	if err != nil {
		return SendResult{Decision: decision, User: user}, err
	}

	s.publishSaved(userID, saved)
	if user.IsGuest() {
		s.publish(userID, events.Event{Type: events.TypeUsageRecorded, Data: s.tracker.Status(user)})
	}

	s.log.WithFields(logrus.Fields{
		"user":     userID,
		"session":  saved.ID,
		"messages": len(saved.Messages),
	}).Info("message stored")

	return SendResult{Session: saved, Decision: decision, User: user}, nil
}

// Autosave persists a transcript snapshot with derived title and preview.
// Transcripts with fewer than two messages are skipped and reported unsaved.
func (s *Service) Autosave(ctx context.Context, owner, sessionID, personaID string, messages []chat.Message) (chat.Session, bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return chat.Session{}, false, session.ErrSessionIDRequired
	}
	if strings.TrimSpace(personaID) == "" {
		return chat.Session{}, false, ErrPersonaRequired
	}
	if !chat.Savable(messages) {
		return chat.Session{}, false, nil
	}

	record := chat.NewSession(sessionID, personaID, messages, s.now().UnixMilli())
	if err := s.sessions.For(owner).Upsert(ctx, record); err != nil {
		return chat.Session{}, false, err
	}

	s.publishSaved(owner, record)
	return record, true, nil
}

func (s *Service) publishSaved(owner string, record chat.Session) {
	s.publish(owner, events.Event{Type: events.TypeSessionSaved, SessionID: record.ID, Data: map[string]any{
		"title":        record.Title,
		"preview":      record.Preview,
		"lastModified": record.LastModified,
	}})
}

// History returns the owner's sessions. A failed read yields an empty list
// together with the error.
func (s *Service) History(ctx context.Context, owner string) ([]chat.Session, error) {
	return s.sessions.For(owner).List(ctx)
}

// Transcript loads a single session.
func (s *Service) Transcript(ctx context.Context, owner, sessionID string) (chat.Session, error) {
	item, found, err := s.sessions.For(owner).Get(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	if !found {
		return chat.Session{}, ErrSessionNotFound
	}
	return item, nil
}

// Delete removes one session; unknown ids are a no-op.
func (s *Service) Delete(ctx context.Context, owner, sessionID string) error {
	if err := s.sessions.For(owner).DeleteOne(ctx, sessionID); err != nil {
		return err
	}
	s.publish(owner, events.Event{Type: events.TypeSessionDeleted, SessionID: sessionID})
	return nil
}

// Clear removes every session of owner.
func (s *Service) Clear(ctx context.Context, owner string) error {
	if err := s.sessions.For(owner).DeleteAll(ctx); err != nil {
		return err
	}
	s.publish(owner, events.Event{Type: events.TypeSessionCleared})
	return nil
}

func (s *Service) publish(owner string, evt events.Event) {
	if s.hub != nil {
		s.hub.Publish(owner, evt)
	}
}
