package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/roomsync/roomsync/internal/api/middleware"
	"github.com/roomsync/roomsync/internal/api/response"
	"github.com/roomsync/roomsync/internal/settings"
	"github.com/roomsync/roomsync/pkg/models"
)

// SettingsService is the settings surface the handlers expose.
type SettingsService interface {
	Get(ctx context.Context, tenantID int64) (*models.Settings, error)
	Save(ctx context.Context, tenantID, crmUserID int64, portalURL, apiKey string) (*models.Settings, error)
	Clear(ctx context.Context, tenantID int64) error
}

// NewGetSettingsHandler returns the handler for GET /api/v1/settings.
func NewGetSettingsHandler(svc SettingsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.RequestIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_IDENTITY", "Missing identity", nil)
			return
		}

		s, err := svc.Get(r.Context(), id.TenantID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load settings", nil)
			return
		}
		response.JSON(w, s)
	}
}

// NewSaveSettingsHandler returns the handler for PUT /api/v1/settings.
// Validation failures come back with the machine-readable reason code so the
// panel can point at the offending field.
func NewSaveSettingsHandler(svc SettingsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.RequestIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_IDENTITY", "Missing identity", nil)
			return
		}

		var req struct {
			RoomServiceURL string `json:"room_service_url"`
			APIKey         string `json:"api_key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.RoomServiceURL == "" || req.APIKey == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "room_service_url and api_key are required", nil)
			return
		}

		s, err := svc.Save(r.Context(), id.TenantID, id.CRMUserID, req.RoomServiceURL, req.APIKey)
		var verr *settings.ValidationError
		if errors.As(err, &verr) {
			response.Error(w, http.StatusUnprocessableEntity, verr.Code, verr.Reason, nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to save settings", nil)
			return
		}
		response.JSON(w, s)
	}
}

// NewClearSettingsHandler returns the handler for DELETE /api/v1/settings.
func NewClearSettingsHandler(svc SettingsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.RequestIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_IDENTITY", "Missing identity", nil)
			return
		}

		if err := svc.Clear(r.Context(), id.TenantID); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to clear settings", nil)
			return
		}
		response.NoContent(w)
	}
}
