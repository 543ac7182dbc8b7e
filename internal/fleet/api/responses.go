package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/pochtmanr/dopplerland-fleet/internal/shared/errors"
	"github.com/pochtmanr/dopplerland-fleet/pkg/api"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful JSON response.
func WriteSuccess[T any](w http.ResponseWriter, data T) error {
	return WriteJSON(w, http.StatusOK, api.Response[T]{
		Success: true,
		Data:    data,
	})
}

// WriteValidationError reports a malformed or incomplete request.
func WriteValidationError(w http.ResponseWriter, r *http.Request, err error) {
	WriteErrorResponse(w, r, apperrors.NewDomainAPIError(apperrors.ErrCodeValidation, err.Error(), false, err))
}

// WriteErrorResponse is the centralized error handler for the API. It
// logs the error and translates DomainErrors into HTTP responses.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	logger := GetLogger(ctx)
	requestID := GetRequestID(ctx)

	logger.ErrorCtx(ctx, "API request failed", err)

	statusCode := http.StatusInternalServerError
	errorCode := apperrors.ErrCodeInternal
	message := "An internal server error occurred"
	metadata := make(map[string]any)

	if domainErr, ok := err.(apperrors.DomainError); ok {
		errorCode = domainErr.Code()
		metadata = domainErr.Metadata()
		statusCode, message = mapErrorCodeToHTTP(domainErr)
	}

	_ = WriteJSON(w, statusCode, api.Response[any]{
		Success: false,
		Error: &api.ErrorInfo{
			Code:      errorCode,
			Message:   message,
			RequestID: requestID,
			Metadata:  metadata,
		},
	})
}

// mapErrorCodeToHTTP maps domain error codes to HTTP status codes and
// user-facing messages. The split lets callers distinguish "try another
// server" from "upgrade your plan" from "system is degraded".
func mapErrorCodeToHTTP(err apperrors.DomainError) (int, string) {
	code := err.Code()
	errMsg := err.Error()

	switch code {
	// 400 Bad Request - bad input or unusable target
	case apperrors.ErrCodeValidation, apperrors.ErrCodeServerInactive:
		return http.StatusBadRequest, "Validation failed: " + errMsg

	// 403 Forbidden - plan limits
	case apperrors.ErrCodeDeviceLimitReached:
		return http.StatusForbidden, "Device limit reached. Disconnect another device or upgrade your plan."

	// 404 Not Found
	case apperrors.ErrCodeAccountNotFound, apperrors.ErrCodeServerNotFound,
		apperrors.ErrCodeConfigNotFound:
		return http.StatusNotFound, "Resource not found: " + errMsg

	// 502 Bad Gateway - the edge server's control plane failed
	case apperrors.ErrCodeBackendAuthFailed, apperrors.ErrCodeBackendUnavailable,
		apperrors.ErrCodeBackendMalformedResponse:
		return http.StatusBadGateway, "Backend server error: " + errMsg

	// 500 Internal Server Error - storage and configuration faults
	case apperrors.ErrCodeServerMisconfigured, apperrors.ErrCodePersistenceFailed,
		apperrors.ErrCodeDatabase, apperrors.ErrCodeConfiguration:
		return http.StatusInternalServerError, "An internal server error occurred"

	default:
		return http.StatusInternalServerError, "An internal server error occurred"
	}
}
