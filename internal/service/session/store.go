// Package session persists chat transcripts per owner as one ordered list
// under a single key of the kv capability.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/soullink/backend/internal/model/chat"
	"github.com/zhouzirui/soullink/backend/internal/store/kv"
)

const (
	// DefaultRetention is how many sessions an owner keeps.
	DefaultRetention = 50

	keyPrefix = "soullink_sessions"
)

var ErrSessionIDRequired = errors.New("session id is required")

// Store is the session list of one owner. Obtain it from Service.For so
// that every writer of the owner shares the same lock.
type Store struct {
	kv        kv.Store
	key       string
	retention int
	lock      func() func()
	log       *logrus.Entry
}

func storeKey(owner string) string {
	return keyPrefix + ":" + owner
}

// List returns the sessions in stored order. A missing list is empty. A
// failed read is logged and returned as an empty list plus the error, so
// callers that only care about data can ignore the error.
func (s *Store) List(ctx context.Context) ([]chat.Session, error) {
	sessions, err := s.load(ctx)
	if err != nil {
		s.log.WithError(err).Warn("list failed, treating as empty")
		return []chat.Session{}, err
	}
	return sessions, nil
}

// Get finds one session by id.
func (s *Store) Get(ctx context.Context, id string) (chat.Session, bool, error) {
	sessions, err := s.List(ctx)
	if err != nil {
		return chat.Session{}, false, err
	}
	for _, item := range sessions {
		if item.ID == id {
			return item, true, nil
		}
	}
	return chat.Session{}, false, nil
}

// Upsert replaces the session with the same id in place, or inserts it at
// the front. The list is then cut to the retention cap, dropping from the
// back. On failure nothing is written.
func (s *Store) Upsert(ctx context.Context, session chat.Session) error {
	_, err := s.Update(ctx, session.ID, func(chat.Session, bool) (chat.Session, error) {
		return session, nil
	})
	return err
}

// Update runs fn on the stored session with id (found reports whether it
// exists) and upserts the result, all under the owner's lock. When fn fails
// nothing is written.
func (s *Store) Update(ctx context.Context, id string, fn func(current chat.Session, found bool) (chat.Session, error)) (chat.Session, error) {
	if strings.TrimSpace(id) == "" {
		return chat.Session{}, ErrSessionIDRequired
	}

	unlock := s.lock()
	defer unlock()

	sessions, err := s.load(ctx)
	if err != nil {
		s.log.WithError(err).WithField("session", id).Error("upsert failed to read")
		return chat.Session{}, err
	}

	index := -1
	var current chat.Session
	for i := range sessions {
		if sessions[i].ID == id {
			index, current = i, sessions[i]
			break
		}
	}

	next, err := fn(current, index >= 0)
	if err != nil {
		return chat.Session{}, err
	}
	next.ID = id

	if index >= 0 {
		sessions[index] = next
	} else {
		sessions = append([]chat.Session{next}, sessions...)
	}
	if len(sessions) > s.retention {
		sessions = sessions[:s.retention]
	}

	if err := s.save(ctx, sessions); err != nil {
		s.log.WithError(err).WithField("session", id).Error("upsert failed to write")
		return chat.Session{}, err
	}
	s.log.WithFields(logrus.Fields{"session": id, "count": len(sessions)}).Debug("session saved")
	return next, nil
}

// DeleteOne removes the session with id; a missing id is a no-op.
func (s *Store) DeleteOne(ctx context.Context, id string) error {
	unlock := s.lock()
	defer unlock()

	sessions, err := s.load(ctx)
	if err != nil {
		s.log.WithError(err).WithField("session", id).Error("delete failed to read")
		return err
	}

	kept := sessions[:0]
	for _, item := range sessions {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	if len(kept) == len(sessions) {
		return nil
	}

	if err := s.save(ctx, kept); err != nil {
		s.log.WithError(err).WithField("session", id).Error("delete failed to write")
		return err
	}
	return nil
}

// DeleteAll removes the owner's whole list.
func (s *Store) DeleteAll(ctx context.Context) error {
	unlock := s.lock()
	defer unlock()

	if err := s.kv.Remove(ctx, s.key); err != nil {
		s.log.WithError(err).Error("clear failed")
		return fmt.Errorf("clear sessions: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) ([]chat.Session, error) {
	var sessions []chat.Session
	ok, err := kv.GetJSON(ctx, s.kv, s.key, &sessions)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	if !ok || sessions == nil {
		return []chat.Session{}, nil
	}
	return sessions, nil
}

func (s *Store) save(ctx context.Context, sessions []chat.Session) error {
	if err := kv.SetJSON(ctx, s.kv, s.key, sessions); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}
