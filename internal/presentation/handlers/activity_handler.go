package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/application/services"
)

// ActivityHandler serves the latest refresh results of a wallet
type ActivityHandler struct {
	service *services.ActivityService
	logger  *zap.Logger
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(service *services.ActivityService, logger *zap.Logger) *ActivityHandler {
	return &ActivityHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the activity route under a wallet route
func (h *ActivityHandler) RegisterRoutes(r chi.Router) {
	r.Get("/activity", h.GetActivity)
}

// GetActivity handles GET /api/v1/networks/{network}/wallets/{wallet}/activity
func (h *ActivityHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	network, wallet, ok := walletParams(w, r)
	if !ok {
		return
	}

	response, err := h.service.GetActivity(r.Context(), network, wallet)
	if err != nil {
		h.logger.Error("Failed to get activity", zap.Error(err), zap.String("wallet", wallet))
		respondError(w, http.StatusInternalServerError, "Failed to get activity")
		return
	}

	if response == nil {
		respondError(w, http.StatusNotFound, "no activity recorded")
		return
	}

	respondJSON(w, http.StatusOK, response)
}
