package menus

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jinjupeng/item-apiserver/internal/platform/httpx"
	"github.com/jinjupeng/item-apiserver/internal/rbac"
	"github.com/jinjupeng/item-apiserver/internal/shared"
)

// UserMenusHandler serves the caller's navigation tree.
type UserMenusHandler struct {
	logger *slog.Logger
	menus  *UserMenus
	rbac   rbac.Middleware
}

// NewUserMenusHandler builds UserMenusHandler instance.
func NewUserMenusHandler(logger *slog.Logger, menus *UserMenus, guard rbac.Middleware) *UserMenusHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserMenusHandler{logger: logger, menus: menus, rbac: guard}
}

// MountRoutes registers the route under /me/menus.
func (h *UserMenusHandler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAuth).Get("/", h.tree)
}

func (h *UserMenusHandler) tree(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.ActorFromContext(r.Context())
	tree, err := h.menus.Tree(r.Context(), userID)
	if err != nil {
		h.logger.Error("user menu tree", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tree)
}
