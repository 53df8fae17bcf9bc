package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/application/services"
)

// maxEnabledBodyBytes caps the PUT .../enabled request body
const maxEnabledBodyBytes = 1 << 10

// TokenHandler handles HTTP requests for a wallet's cached tokens and tickers
type TokenHandler struct {
	service *services.TokenService
	logger  *zap.Logger
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(service *services.TokenService, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the token routes under a wallet route
func (h *TokenHandler) RegisterRoutes(r chi.Router) {
	r.Get("/tokens", h.GetWalletTokens)
	r.Put("/tokens/{token}/enabled", h.SetTokenEnabled)
	r.Get("/tickers", h.GetFreshTickers)
}

// SetEnabledRequest is the body of a token visibility change
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// GetWalletTokens handles GET /api/v1/networks/{network}/wallets/{wallet}/tokens
func (h *TokenHandler) GetWalletTokens(w http.ResponseWriter, r *http.Request) {
	network, wallet, ok := walletParams(w, r)
	if !ok {
		return
	}

	all := false
	if v := r.URL.Query().Get("all"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid all parameter")
			return
		}
		all = parsed
	}

	response, err := h.service.GetWalletTokens(r.Context(), network, wallet, all)
	if err != nil {
		h.logger.Error("Failed to get tokens", zap.Error(err), zap.String("wallet", wallet))
		respondError(w, http.StatusInternalServerError, "Failed to get tokens")
		return
	}

	respondJSON(w, http.StatusOK, response)
}

// SetTokenEnabled handles PUT /api/v1/networks/{network}/wallets/{wallet}/tokens/{token}/enabled
func (h *TokenHandler) SetTokenEnabled(w http.ResponseWriter, r *http.Request) {
	network, wallet, ok := walletParams(w, r)
	if !ok {
		return
	}

	token := chi.URLParam(r, "token")
	if !isValidAddress(token) {
		respondError(w, http.StatusBadRequest, "Invalid token address format")
		return
	}

	var req SetEnabledRequest
	body := http.MaxBytesReader(w, r.Body, maxEnabledBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil || req.Enabled == nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, "Body must be {\"enabled\": bool}")
		return
	}

	if err := h.service.SetTokenEnabled(r.Context(), network, wallet, strings.ToLower(token), *req.Enabled); err != nil {
		h.logger.Error("Failed to set token visibility", zap.Error(err), zap.String("token", token))
		respondError(w, http.StatusInternalServerError, "Failed to update token")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetFreshTickers handles GET /api/v1/networks/{network}/wallets/{wallet}/tickers
func (h *TokenHandler) GetFreshTickers(w http.ResponseWriter, r *http.Request) {
	network, wallet, ok := walletParams(w, r)
	if !ok {
		return
	}

	response, err := h.service.GetFreshTickers(r.Context(), network, wallet)
	if err != nil {
		h.logger.Error("Failed to get tickers", zap.Error(err), zap.String("wallet", wallet))
		respondError(w, http.StatusInternalServerError, "Failed to get tickers")
		return
	}

	if response == nil {
		respondError(w, http.StatusNotFound, "no fresh tickers")
		return
	}

	respondJSON(w, http.StatusOK, response)
}

// walletParams validates the network and wallet path parameters, writing a
// 400 response when either is malformed.
func walletParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	network := chi.URLParam(r, "network")
	if !isValidNetwork(network) {
		respondError(w, http.StatusBadRequest, "Invalid network")
		return "", "", false
	}

	wallet := chi.URLParam(r, "wallet")
	if !isValidAddress(wallet) {
		respondError(w, http.StatusBadRequest, "Invalid wallet address format")
		return "", "", false
	}

	return network, strings.ToLower(wallet), true
}
