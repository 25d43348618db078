package session

import (
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/soullink/backend/internal/store/kv"
	"github.com/zhouzirui/soullink/backend/pkg/syncx"
)

// Service hands out per-owner stores over one kv backend.
type Service struct {
	kv        kv.Store
	retention int
	locks     *syncx.KeyedMutex
}

// NewService returns a Service; retention <= 0 means DefaultRetention.
func NewService(store kv.Store, retention int) *Service {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Service{
		kv:        store,
		retention: retention,
		locks:     syncx.NewKeyedMutex(),
	}
}

// For returns the session store of owner.
func (s *Service) For(owner string) *Store {
	return &Store{
		kv:        s.kv,
		key:       storeKey(owner),
		retention: s.retention,
		lock:      func() func() { return s.locks.Lock(owner) },
		log:       logrus.WithFields(logrus.Fields{"component": "session", "owner": owner}),
	}
}

// Retention reports the per-owner cap.
func (s *Service) Retention() int {
	return s.retention
}
