package chat

import (
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/soullink/backend/internal/middleware"
	"github.com/zhouzirui/soullink/backend/internal/model/chat"
	"github.com/zhouzirui/soullink/backend/internal/model/persona"
	chatService "github.com/zhouzirui/soullink/backend/internal/service/chat"
	identityService "github.com/zhouzirui/soullink/backend/internal/service/identity"
	"github.com/zhouzirui/soullink/backend/internal/service/quota"
	"github.com/zhouzirui/soullink/backend/internal/service/session"
	"github.com/zhouzirui/soullink/backend/pkg/utils"
)

// DegradedHeader 在历史读取失败、以空列表代替返回时设置。
const DegradedHeader = "X-Storage-Degraded"

// Handler 处理聊天历史与消息发送。
type Handler struct {
	chatSvc      *chatService.Service
	personaStore persona.Store
	log          *logrus.Entry
}

// New 创建聊天处理器。
func New(chatSvc *chatService.Service, personaStore persona.Store) *Handler {
	return &Handler{
		chatSvc:      chatSvc,
		personaStore: personaStore,
		log:          logrus.WithField("component", "handler.chat"),
	}
}

// RegisterRoutes 注册需要认证的聊天路由。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/send", h.handleSend)
	r.Get("/sessions", h.handleListSessions)
	r.Delete("/sessions", h.handleClearSessions)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Put("/sessions/{sessionID}", h.handleSaveSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
}

type sessionView struct {
	chat.Session
	PersonaName  string `json:"personaName"`
	PersonaKnown bool   `json:"personaKnown"`
}

func (h *Handler) view(s chat.Session) sessionView {
	v := sessionView{Session: s, PersonaName: "Unknown"}
	if p, ok := h.personaStore.FindByID(s.PersonaID); ok {
		v.PersonaName = p.Name
		v.PersonaKnown = true
	}
	return v
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var payload chatService.SendRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondDecodeError(w, err)
		return
	}

	res, err := h.chatSvc.Send(r.Context(), userID, payload)
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusCreated, res)
	case errors.Is(err, quota.ErrLimitReached):
		utils.RespondJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":      err.Error(),
			"allowed":    false,
			"waitMillis": res.Decision.WaitMillis,
			"window":     res.Decision.Window,
		})
	case errors.Is(err, chatService.ErrPersonaRequired),
		errors.Is(err, chatService.ErrPersonaNotFound),
		errors.Is(err, chatService.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, identityService.ErrUserNotFound):
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
	default:
		h.log.WithError(err).WithField("user", userID).Error("send failed")
		utils.RespondError(w, http.StatusInternalServerError, "send failed")
	}
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	sessions, err := h.chatSvc.History(r.Context(), userID)
	if err != nil {
		h.log.WithError(err).WithField("user", userID).Warn("history unreadable, returning empty list")
		w.Header().Set(DegradedHeader, "true")
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastModified > sessions[j].LastModified
	})

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, h.view(s))
	}
	utils.RespondJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	s, err := h.chatSvc.Transcript(r.Context(), userID, chi.URLParam(r, "sessionID"))
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, h.view(s))
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	default:
		h.log.WithError(err).Error("load session failed")
		utils.RespondError(w, http.StatusInternalServerError, "load session failed")
	}
}

// handleSaveSession 自动保存：客户端每次变更后提交完整对话。
func (h *Handler) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var payload struct {
		PersonaID string         `json:"personaId"`
		Messages  []chat.Message `json:"messages"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondDecodeError(w, err)
		return
	}

	saved, stored, err := h.chatSvc.Autosave(r.Context(), userID, chi.URLParam(r, "sessionID"), payload.PersonaID, payload.Messages)
	switch {
	case err == nil && !stored:
		utils.RespondJSON(w, http.StatusOK, map[string]any{"saved": false})
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, map[string]any{"saved": true, "session": h.view(saved)})
	case errors.Is(err, chatService.ErrPersonaRequired), errors.Is(err, session.ErrSessionIDRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.WithError(err).Error("autosave failed")
		utils.RespondError(w, http.StatusInternalServerError, "save failed")
	}
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	if err := h.chatSvc.Delete(r.Context(), userID, chi.URLParam(r, "sessionID")); err != nil {
		h.log.WithError(err).Error("delete session failed")
		utils.RespondError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClearSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	if err := h.chatSvc.Clear(r.Context(), userID); err != nil {
		h.log.WithError(err).Error("clear sessions failed")
		utils.RespondError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
