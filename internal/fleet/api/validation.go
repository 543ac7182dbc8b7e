package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pochtmanr/dopplerland-fleet/pkg/api"
)

const maxRequestBody = 64 * 1024

// ParseJSONRequest decodes a JSON request body with a size cap.
func ParseJSONRequest(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// ValidateConnectRequest checks required connect fields.
func ValidateConnectRequest(req *api.ConnectRequest) error {
	if req.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if req.ServerID == "" {
		return fmt.Errorf("server_id is required")
	}
	if req.DeviceID != nil && *req.DeviceID == "" {
		return fmt.Errorf("device_id must not be empty when provided")
	}
	return nil
}

// ValidateDisconnectRequest checks that a disconnect identifies exactly
// one target.
func ValidateDisconnectRequest(req *api.DisconnectRequest) error {
	if req.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	hasKey := req.PublicKey != nil && *req.PublicKey != ""
	hasID := req.ConfigID != nil && *req.ConfigID != ""
	if !hasKey && !hasID {
		return fmt.Errorf("public_key or config_id is required")
	}
	return nil
}
