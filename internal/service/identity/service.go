package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/soullink/backend/internal/model/identity"
	"github.com/zhouzirui/soullink/backend/internal/store/kv"
	"github.com/zhouzirui/soullink/backend/pkg/syncx"
)

const (
	keyPrefix   = "soullink_user:"
	guestPrefix = "guest_"
)

var (
	ErrUserIDRequired = errors.New("user id is required")
	ErrUserNotFound   = errors.New("user not found")
	ErrInvalidAmount  = errors.New("amount must be positive")

	errInsufficientShards = errors.New("insufficient balance")
)

// Service owns identity records. Every mutation is a locked
// read-modify-write on the single document stored for the id.
type Service struct {
	store kv.Store
	locks *syncx.KeyedMutex
	log   *logrus.Entry
}

// NewService returns a Service persisting through store.
func NewService(store kv.Store) *Service {
	return &Service{
		store: store,
		locks: syncx.NewKeyedMutex(),
		log:   logrus.WithField("component", "identity"),
	}
}

func userKey(id string) string {
	return keyPrefix + id
}

// Get loads the identity stored under id.
func (s *Service) Get(ctx context.Context, id string) (identity.User, error) {
	if strings.TrimSpace(id) == "" {
		return identity.User{}, ErrUserIDRequired
	}

	var user identity.User
	ok, err := kv.GetJSON(ctx, s.store, userKey(id), &user)
	if err != nil {
		return identity.User{}, fmt.Errorf("load user %s: %w", id, err)
	}
	if !ok {
		return identity.User{}, ErrUserNotFound
	}
	return user, nil
}

// Save overwrites the stored identity.
func (s *Service) Save(ctx context.Context, user identity.User) error {
	if strings.TrimSpace(user.ID) == "" {
		return ErrUserIDRequired
	}

	unlock := s.locks.Lock(user.ID)
	defer unlock()
	return s.put(ctx, user)
}

func (s *Service) put(ctx context.Context, user identity.User) error {
	if err := kv.SetJSON(ctx, s.store, userKey(user.ID), user); err != nil {
		s.log.WithError(err).WithField("user", user.ID).Error("save failed")
		return fmt.Errorf("save user %s: %w", user.ID, err)
	}
	return nil
}

// Update applies fn to a copy of the stored identity and persists the
// result. When fn fails nothing is written and the stored value is returned
// alongside the error.
func (s *Service) Update(ctx context.Context, id string, fn func(*identity.User) error) (identity.User, error) {
	if strings.TrimSpace(id) == "" {
		return identity.User{}, ErrUserIDRequired
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return identity.User{}, err
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		return current, err
	}
	next.ID = current.ID

	if err := s.put(ctx, next); err != nil {
		return current, err
	}
	return next, nil
}

// GuestLogin restores the guest stored under previousID, or creates a new
// guest when there is none.
func (s *Service) GuestLogin(ctx context.Context, previousID string) (identity.User, error) {
	if previousID = strings.TrimSpace(previousID); previousID != "" {
		user, err := s.Get(ctx, previousID)
		switch {
		case err == nil && user.IsGuest():
			s.log.WithField("user", user.ID).Info("guest restored")
			return user, nil
		case err != nil && !errors.Is(err, ErrUserNotFound):
			return identity.User{}, err
		}
	}

	guest := identity.User{
		ID:         guestPrefix + uuid.NewString(),
		Name:       "Guest",
		Username:   "guest",
		Email:      "guest@soullink.ai",
		Role:       identity.RoleGuest,
		MoonShards: 0,
		Badges:     []string{},
		Level:      0,
		MsgCount:   []int64{},
	}
	if err := s.Save(ctx, guest); err != nil {
		return identity.User{}, err
	}

	s.log.WithField("user", guest.ID).Info("guest created")
	return guest, nil
}

// AddMoonShards credits amount shards.
func (s *Service) AddMoonShards(ctx context.Context, id string, amount int) (identity.User, error) {
	if amount <= 0 {
		return identity.User{}, ErrInvalidAmount
	}
	return s.Update(ctx, id, func(u *identity.User) error {
		u.MoonShards += amount
		return nil
	})
}

// SpendMoonShards debits amount shards. Admins spend for free. An
// insufficient balance is reported as false with no error.
func (s *Service) SpendMoonShards(ctx context.Context, id string, amount int) (identity.User, bool, error) {
	if amount <= 0 {
		return identity.User{}, false, ErrInvalidAmount
	}

	user, err := s.Update(ctx, id, func(u *identity.User) error {
		if u.Role == identity.RoleAdmin {
			return nil
		}
		if u.MoonShards < amount {
			return errInsufficientShards
		}
		u.MoonShards -= amount
		return nil
	})
	if errors.Is(err, errInsufficientShards) {
		return user, false, nil
	}
	if err != nil {
		return user, false, err
	}
	return user, true, nil
}

// ResetUsage clears the guest usage record.
func (s *Service) ResetUsage(ctx context.Context, id string) (identity.User, error) {
	return s.Update(ctx, id, func(u *identity.User) error {
		u.MsgCount = []int64{}
		return nil
	})
}

// Forget removes the identity record entirely.
func (s *Service) Forget(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrUserIDRequired
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.store.Remove(ctx, userKey(id)); err != nil {
		return fmt.Errorf("forget user %s: %w", id, err)
	}
	return nil
}
