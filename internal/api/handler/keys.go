package handler

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	mw "github.com/anupkhanal/ocrhub/internal/api/middleware"
	"github.com/anupkhanal/ocrhub/internal/api/response"
	"github.com/anupkhanal/ocrhub/internal/store"
	"github.com/anupkhanal/ocrhub/pkg/models"
)

// rawKeyPrefix marks keys issued by this service. The first prefixLength
// characters of a raw key are stored in plaintext to narrow the bcrypt
// comparison at auth time.
const (
	rawKeyPrefix = "ohk_"
	rawKeyBytes  = 24
	prefixLength = 8
)

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// The raw key appears in this response only; afterwards just its hash exists.
func NewCreateKeyHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		var req struct {
			Name   string   `json:"name"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}
		scopes := req.Scopes
		if len(scopes) == 0 {
			scopes = []string{"extract"}
		}

		raw, err := generateRawKey()
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not generate key material", nil)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not hash key", nil)
			return
		}

		now := time.Now().UTC()
		key := &models.APIKey{
			ID:        uuid.New(),
			TenantID:  tenantID,
			Name:      req.Name,
			KeyHash:   string(hash),
			KeyPrefix: raw[:prefixLength],
			Scopes:    scopes,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.CreateAPIKey(r.Context(), key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE_KEY",
					"A key with that prefix already exists, retry", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not store key", nil)
			return
		}

		response.Created(w, createKeyResponse{
			ID:        key.ID.String(),
			Name:      key.Name,
			Key:       raw,
			KeyPrefix: key.KeyPrefix,
			Scopes:    key.Scopes,
			CreatedAt: key.CreatedAt,
		})
	}
}

type createKeyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/admin/keys.
func NewListKeysHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		keys, err := s.ListAPIKeys(r.Context(), tenantID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not list keys", nil)
			return
		}
		response.JSON(w, map[string]any{"keys": keys})
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"keyID must be a valid UUID", nil)
			return
		}

		if err := s.RevokeAPIKey(r.Context(), keyID, tenantID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "KEY_NOT_FOUND",
					"No key with that ID", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not revoke key", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func generateRawKey() (string, error) {
	buf := make([]byte, rawKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return rawKeyPrefix + hex.EncodeToString(buf), nil
}
