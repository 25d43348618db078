package quota

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/soullink/backend/internal/middleware"
	"github.com/zhouzirui/soullink/backend/internal/model/identity"
	"github.com/zhouzirui/soullink/backend/internal/service/events"
	identityService "github.com/zhouzirui/soullink/backend/internal/service/identity"
	"github.com/zhouzirui/soullink/backend/internal/service/quota"
	"github.com/zhouzirui/soullink/backend/pkg/utils"
)

const defaultTick = time.Second

// Handler 提供游客额度查询与实时倒计时。
type Handler struct {
	identities *identityService.Service
	tracker    *quota.Tracker
	hub        *events.Hub
	tick       time.Duration
	log        *logrus.Entry
}

// New 创建额度处理器，hub 可为 nil。
func New(identities *identityService.Service, tracker *quota.Tracker, hub *events.Hub) *Handler {
	return &Handler{
		identities: identities,
		tracker:    tracker,
		hub:        hub,
		tick:       defaultTick,
		log:        logrus.WithField("component", "handler.quota"),
	}
}

// RegisterRoutes 注册需要认证的额度路由。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/quota", h.handleStatus)
	r.Post("/quota/record", h.handleRecord)
	r.Get("/quota/stream", h.handleStream)
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (identity.User, bool) {
	userID, ok := middleware.UserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return identity.User{}, false
	}

	user, err := h.identities.Get(r.Context(), userID)
	switch {
	case err == nil:
		return user, true
	case errors.Is(err, identityService.ErrUserNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	default:
		h.log.WithError(err).WithField("user", userID).Error("load identity failed")
		utils.RespondError(w, http.StatusInternalServerError, "load identity failed")
	}
	return identity.User{}, false
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := h.load(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.tracker.Status(user))
}

// handleRecord 记录一次发送，不预先校验额度。
func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	user, ok := h.load(w, r)
	if !ok {
		return
	}

	updated, err := h.tracker.Record(r.Context(), user)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "record usage failed")
		return
	}

	current := h.tracker.Status(updated)
	if h.hub != nil && updated.IsGuest() {
		h.hub.Publish(updated.ID, events.Event{Type: events.TypeUsageRecorded, Data: current})
	}
	utils.RespondJSON(w, http.StatusOK, current)
}

// handleStream 每个周期推送一次 "quota" 事件，直到可以再次发送或连接断开。
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	user, ok := h.load(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)

	ctx := r.Context()
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	for {
		current := h.tracker.Status(user)
		if err := utils.SendSSEEvent(w, flusher, "quota", current); err != nil {
			return
		}
		if current.Allowed {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		refreshed, err := h.identities.Get(ctx, user.ID)
		if err != nil {
			h.log.WithError(err).WithField("user", user.ID).Warn("countdown refresh failed")
			_ = utils.SendSSEEvent(w, flusher, "error", map[string]string{"error": "refresh failed"})
			return
		}
		user = refreshed
	}
}
