package hierarchy

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/jinjupeng/item-apiserver/internal/platform/httpx"
	"github.com/jinjupeng/item-apiserver/internal/rbac"
)

// Permissions names the permission codes guarding a family's routes.
type Permissions struct {
	View string
	Edit string
}

// Handler exposes one family over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	perms     Permissions
	validator *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, guard rbac.Middleware, perms Permissions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: guard, perms: perms, validator: validator.New()}
}

// MountRoutes registers the family routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(h.perms.View, h.perms.Edit))
		r.Get("/tree", h.getTree)
		r.Get("/search", h.search)
		r.Get("/expanded-keys", h.expandedKeys)
		r.Get("/roles/{roleID}/checked-keys", h.checkedKeys)
		r.Get("/{id}", h.getNode)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(h.perms.Edit))
		r.Post("/", h.create)
		r.Post("/root", h.createRoot)
		r.Patch("/{id}", h.updateAttrs)
		r.Put("/{id}/status", h.updateStatus)
		r.Put("/{id}/parent", h.move)
		r.Delete("/{id}", h.delete)
		r.Put("/roles/{roleID}/checked-keys", h.saveCheckedKeys)
		r.Get("/integrity", h.integrity)
	})
}

type attrsRequest struct {
	Name  string            `json:"name" validate:"required,max=128"`
	Sort  int               `json:"sort" validate:"gte=0"`
	Attrs map[string]string `json:"attrs" validate:"omitempty,dive,max=512"`
}

func (a attrsRequest) toAttrs() NodeAttrs {
	return NodeAttrs{Name: a.Name, Sort: a.Sort, Attrs: a.Attrs}
}

type patchRequest struct {
	Name  *string           `json:"name" validate:"omitempty,min=1,max=128"`
	Sort  *int              `json:"sort" validate:"omitempty,gte=0"`
	Attrs map[string]string `json:"attrs" validate:"omitempty,dive,max=512"`
}

type createRequest struct {
	ParentID int64 `json:"parentId" validate:"required,gt=0"`
	attrsRequest
}

type statusRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type moveRequest struct {
	ParentID int64 `json:"parentId" validate:"required,gt=0"`
}

type checkedKeysRequest struct {
	IDs []int64 `json:"ids" validate:"dive,gt=0"`
}

type keysResponse struct {
	Keys []int64 `json:"keys"`
}

func (h *Handler) getTree(w http.ResponseWriter, r *http.Request) {
	q, err := parseTreeQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.GetTree(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.service.Search(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nodes)
}

func (h *Handler) expandedKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.service.GetExpandedKeys(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, keysResponse{Keys: keys})
}

func (h *Handler) checkedKeys(w http.ResponseWriter, r *http.Request) {
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	keys, err := h.service.GetCheckedKeys(r.Context(), roleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, keysResponse{Keys: keys})
}

func (h *Handler) saveCheckedKeys(w http.ResponseWriter, r *http.Request) {
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req checkedKeysRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.SaveCheckedKeys(r.Context(), roleID, req.IDs); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getNode(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	node, err := h.service.GetNode(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, node)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	node, err := h.service.CreateNode(r.Context(), req.ParentID, req.toAttrs())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, node)
}

func (h *Handler) createRoot(w http.ResponseWriter, r *http.Request) {
	var req attrsRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	node, err := h.service.CreateRoot(r.Context(), req.toAttrs())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, node)
}

func (h *Handler) updateAttrs(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req patchRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	node, err := h.service.UpdateAttrs(r.Context(), id, NodePatch{Name: req.Name, Sort: req.Sort, Attrs: req.Attrs})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, node)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req statusRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.UpdateStatus(r.Context(), id, *req.Enabled); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req moveRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.MoveNode(r.Context(), id, req.ParentID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeleteNode(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) integrity(w http.ResponseWriter, r *http.Request) {
	violations, err := h.service.CheckIntegrity(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if violations == nil {
		violations = []Violation{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"family": h.service.Family().Name, "violations": violations})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrParentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrMissingRoot):
		httpx.Problem(w, http.StatusNotFound, "Missing Root", err.Error())
	case errors.Is(err, ErrHasChildren), errors.Is(err, ErrCyclicMove), errors.Is(err, ErrMultipleRoots), errors.Is(err, ErrInUse),
		errors.Is(err, ErrConcurrentChange):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, httpx.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("hierarchy request failed",
			slog.String("family", h.service.Family().Name),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func parseTreeQuery(r *http.Request) (TreeQuery, error) {
	values := r.URL.Query()
	q := TreeQuery{IncludeRoot: true}
	if raw := values.Get("rootId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			return TreeQuery{}, fmt.Errorf("%w: invalid rootId %q", ErrValidation, raw)
		}
		q.RootID = id
	}
	if name := strings.TrimSpace(values.Get("name")); name != "" {
		q.NameLike = &name
	}
	if raw := values.Get("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return TreeQuery{}, fmt.Errorf("%w: invalid enabled %q", ErrValidation, raw)
		}
		q.Enabled = &enabled
	}
	if raw := values.Get("includeRoot"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			return TreeQuery{}, fmt.Errorf("%w: invalid includeRoot %q", ErrValidation, raw)
		}
		q.IncludeRoot = include
	}
	return q, nil
}
