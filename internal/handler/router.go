package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/soullink/backend/internal/auth"
	authHandler "github.com/zhouzirui/soullink/backend/internal/handler/auth"
	"github.com/zhouzirui/soullink/backend/internal/handler/chat"
	eventsHandler "github.com/zhouzirui/soullink/backend/internal/handler/events"
	"github.com/zhouzirui/soullink/backend/internal/handler/persona"
	quotaHandler "github.com/zhouzirui/soullink/backend/internal/handler/quota"
	middlewarePkg "github.com/zhouzirui/soullink/backend/internal/middleware"
	personaModel "github.com/zhouzirui/soullink/backend/internal/model/persona"
	chatService "github.com/zhouzirui/soullink/backend/internal/service/chat"
	"github.com/zhouzirui/soullink/backend/internal/service/events"
	identityService "github.com/zhouzirui/soullink/backend/internal/service/identity"
	"github.com/zhouzirui/soullink/backend/internal/service/quota"
	"github.com/zhouzirui/soullink/backend/pkg/utils"
)

// Deps 汇总 HTTP 层依赖的服务。
type Deps struct {
	Personas   personaModel.Store
	Identities *identityService.Service
	Tracker    *quota.Tracker
	Chat       *chatService.Service
	Hub        *events.Hub
	Issuer     *auth.Issuer
	CORSOrigin string
}

// NewRouter 将 HTTP 路由绑定到核心服务。
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.CORSOrigin))

	personaH := persona.New(deps.Personas)
	authH := authHandler.New(deps.Identities, deps.Issuer)
	quotaH := quotaHandler.New(deps.Identities, deps.Tracker, deps.Hub)
	chatH := chat.New(deps.Chat, deps.Personas)
	eventsH := eventsHandler.New(deps.Hub)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		personaH.RegisterRoutes(api)
		authH.RegisterPublicRoutes(api)

		api.Group(func(protected chi.Router) {
			protected.Use(middlewarePkg.Authenticate(deps.Issuer))

			authH.RegisterRoutes(protected)
			quotaH.RegisterRoutes(protected)
			chatH.RegisterRoutes(protected)
			eventsH.RegisterRoutes(protected)
		})
	})

	return r
}
