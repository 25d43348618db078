package auth

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/soullink/backend/internal/auth"
	"github.com/zhouzirui/soullink/backend/internal/middleware"
	"github.com/zhouzirui/soullink/backend/internal/model/identity"
	identityService "github.com/zhouzirui/soullink/backend/internal/service/identity"
	"github.com/zhouzirui/soullink/backend/pkg/utils"
)

// Handler 处理游客登录与当前身份信息。
type Handler struct {
	identities *identityService.Service
	issuer     *auth.Issuer
	log        *logrus.Entry
}

// New 创建身份处理器。
func New(identities *identityService.Service, issuer *auth.Issuer) *Handler {
	return &Handler{
		identities: identities,
		issuer:     issuer,
		log:        logrus.WithField("component", "handler.auth"),
	}
}

// RegisterPublicRoutes 注册无需令牌的路由。
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/auth/guest", h.handleGuestLogin)
}

// RegisterRoutes 注册需要认证的身份路由。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/me", h.handleMe)
	r.Post("/shards/add", h.handleAddShards)
	r.Post("/shards/spend", h.handleSpendShards)
}

type loginResponse struct {
	Token string        `json:"token"`
	User  identity.User `json:"user"`
}

func (h *Handler) handleGuestLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		GuestID string `json:"guestId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondDecodeError(w, err)
		return
	}

	user, err := h.identities.GuestLogin(r.Context(), payload.GuestID)
	if err != nil {
		h.log.WithError(err).Error("guest login failed")
		utils.RespondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	token, err := h.issuer.Issue(user.ID, string(user.Role))
	if err != nil {
		h.log.WithError(err).Error("issue token failed")
		utils.RespondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	user, err := h.identities.Get(r.Context(), userID)
	if err != nil {
		h.respondIdentityError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, user)
}

type amountRequest struct {
	Amount int `json:"amount"`
}

func (h *Handler) handleAddShards(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var payload amountRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondDecodeError(w, err)
		return
	}

	user, err := h.identities.AddMoonShards(r.Context(), userID, payload.Amount)
	if err != nil {
		h.respondIdentityError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, user)
}

func (h *Handler) handleSpendShards(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var payload amountRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondDecodeError(w, err)
		return
	}

	user, spent, err := h.identities.SpendMoonShards(r.Context(), userID, payload.Amount)
	if err != nil {
		h.respondIdentityError(w, err)
		return
	}
	if !spent {
		utils.RespondJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":      "insufficient moon shards",
			"moonShards": user.MoonShards,
		})
		return
	}
	utils.RespondJSON(w, http.StatusOK, user)
}

func (h *Handler) respondIdentityError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identityService.ErrUserNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, identityService.ErrInvalidAmount), errors.Is(err, identityService.ErrUserIDRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.WithError(err).Error("identity operation failed")
		utils.RespondError(w, http.StatusInternalServerError, "identity operation failed")
	}
}
