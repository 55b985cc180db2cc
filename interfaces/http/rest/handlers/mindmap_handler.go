package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"thinknet-backend/internal/collab"
	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/errors"
	"thinknet-backend/internal/middleware"
	"thinknet-backend/pkg/api"
	"thinknet-backend/pkg/auth"
)

// MindmapService is the engine surface the REST API needs.
type MindmapService interface {
	Read(ctx context.Context, userID, documentID string) (*mindmap.Document, mindmap.Permission, error)
	Save(ctx context.Context, userID, documentID string) error
	Presence(ctx context.Context, userID, documentID string) ([]collab.Presence, error)
}

// MindmapHandler serves /api/v1/mindmaps.
type MindmapHandler struct {
	service MindmapService
	logger  *zap.Logger
	now     func() time.Time
}

// NewMindmapHandler creates a new mind map handler
func NewMindmapHandler(service MindmapService, logger *zap.Logger) *MindmapHandler {
	return &MindmapHandler{
		service: service,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetMindmap handles GET /mindmaps/{mindmapID}
func (h *MindmapHandler) GetMindmap(w http.ResponseWriter, r *http.Request) {
	userID, mindmapID, ok := h.target(w, r)
	if !ok {
		return
	}

	doc, perm, err := h.service.Read(r.Context(), userID, mindmapID)
	if err != nil {
		h.fail(w, r, "read", mindmapID, userID, err)
		return
	}
	api.Success(w, http.StatusOK, api.NewMindmapResponse(doc, perm))
}

// SaveMindmap handles POST /mindmaps/{mindmapID}/save
func (h *MindmapHandler) SaveMindmap(w http.ResponseWriter, r *http.Request) {
	userID, mindmapID, ok := h.target(w, r)
	if !ok {
		return
	}

	if err := h.service.Save(r.Context(), userID, mindmapID); err != nil {
		h.fail(w, r, "save", mindmapID, userID, err)
		return
	}
	api.Success(w, http.StatusOK, api.SaveResponse{MindmapID: mindmapID, SavedAt: h.now()})
}

// GetPresence handles GET /mindmaps/{mindmapID}/presence
func (h *MindmapHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	userID, mindmapID, ok := h.target(w, r)
	if !ok {
		return
	}

	members, err := h.service.Presence(r.Context(), userID, mindmapID)
	if err != nil {
		h.fail(w, r, "presence", mindmapID, userID, err)
		return
	}
	users := make([]api.PresenceUser, 0, len(members))
	for _, m := range members {
		users = append(users, api.PresenceUser{ID: m.ID, Username: m.Username})
	}
	api.Success(w, http.StatusOK, api.PresenceResponse{MindmapID: mindmapID, Users: users})
}

func (h *MindmapHandler) target(w http.ResponseWriter, r *http.Request) (userID, mindmapID string, ok bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		api.WriteError(w, errors.Unauthorized(errors.CodeInvalidToken, "authentication required").Build(), middleware.GetRequestID(r.Context()))
		return "", "", false
	}
	mindmapID = chi.URLParam(r, "mindmapID")
	if mindmapID == "" {
		api.WriteError(w, errors.Validation(errors.CodeInvalidInput, "mindmap id is required").Build(), middleware.GetRequestID(r.Context()))
		return "", "", false
	}
	return user.UserID, mindmapID, true
}

func (h *MindmapHandler) fail(w http.ResponseWriter, r *http.Request, op, mindmapID, userID string, err error) {
	status := errors.HTTPStatus(err)
	log := h.logger.Debug
	if status >= http.StatusInternalServerError {
		log = h.logger.Error
	}
	log("Mindmap request failed",
		zap.String("operation", op),
		zap.String("mindmapID", mindmapID),
		zap.String("userID", userID),
		zap.Error(err),
	)
	api.WriteError(w, err, middleware.GetRequestID(r.Context()))
}
