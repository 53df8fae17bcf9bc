package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// isValidAddress accepts 0x-prefixed 20-byte hex addresses
func isValidAddress(addr string) bool {
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return false
	}
	return common.IsHexAddress(addr)
}

// isValidNetwork accepts short alphanumeric network identifiers
func isValidNetwork(network string) bool {
	if network == "" || len(network) > 32 {
		return false
	}
	for _, r := range network {
		isDigit := r >= '0' && r <= '9'
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !isDigit && !isLetter && r != '-' && r != '_' {
			return false
		}
	}
	return true
}
