package controllers

import (
	"errors"
	"net/http"

	"quasar_backend/models"
	"quasar_backend/services/lifecycle"
	"quasar_backend/services/prefs"
	"quasar_backend/services/registry"
	"quasar_backend/services/vault"

	"github.com/gin-gonic/gin"
)

// ProviderController exposes the provider configuration surface: schema
// discovery, preference reads/merges, credential key names and rotation,
// and explicit unload
type ProviderController struct {
	registry *registry.Storage
	prefs    *prefs.Store
	vault    *vault.Vault
	cache    *lifecycle.Cache
}

// NewProviderController creates a new provider controller
func NewProviderController(reg *registry.Storage, prefStore *prefs.Store, v *vault.Vault, cache *lifecycle.Cache) *ProviderController {
	return &ProviderController{
		registry: reg,
		prefs:    prefStore,
		vault:    v,
		cache:    cache,
	}
}

// ListProviders returns all registered providers
// GET /api/v1/providers
func (pc *ProviderController) ListProviders(c *gin.Context) {
	recs, err := pc.registry.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	type providerSummary struct {
		Name           string              `json:"name"`
		Kind           models.ProviderKind `json:"kind"`
		Status         string              `json:"status"`
		HasCredentials bool                `json:"has_credentials"`
		Loaded         bool                `json:"loaded"`
	}

	out := make([]providerSummary, 0, len(recs))
	for i := range recs {
		out = append(out, providerSummary{
			Name:           recs[i].Name,
			Kind:           recs[i].Kind,
			Status:         recs[i].Status,
			HasCredentials: recs[i].HasCredentials(),
			Loaded:         pc.cache.Loaded(recs[i].Name),
		})
	}

	c.JSON(http.StatusOK, gin.H{"providers": out, "total": len(out)})
}

// GetProvider returns one provider record with its resolved preferences
// GET /api/v1/providers/:name
func (pc *ProviderController) GetProvider(c *gin.Context) {
	name := c.Param("name")

	rec, err := pc.registry.ReadRecord(name)
	if err != nil {
		if errors.Is(err, prefs.ErrProviderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "provider not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	resolved, err := pc.prefs.Get(name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":            rec.Name,
		"kind":            rec.Kind,
		"status":          rec.Status,
		"code_location":   rec.CodeLocation,
		"content_hash":    rec.ContentHash,
		"has_credentials": rec.HasCredentials(),
		"loaded":          pc.cache.Loaded(rec.Name),
		"preferences":     resolved,
	})
}

// GetSchema returns the preference field schema for a provider kind
// GET /api/v1/providers/schema/:kind
func (pc *ProviderController) GetSchema(c *gin.Context) {
	kind := models.ProviderKind(c.Param("kind"))
	if !kind.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "bad_request",
			"message": "unknown provider kind",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"kind":   kind,
		"fields": prefs.SchemaFor(kind),
	})
}

// GetPreferences returns the resolved preference blob for a provider
// GET /api/v1/providers/:name/preferences
func (pc *ProviderController) GetPreferences(c *gin.Context) {
	name := c.Param("name")

	resolved, err := pc.prefs.Get(name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": name, "preferences": resolved})
}

// UpdatePreferences validates and merges a partial preference update
// PATCH /api/v1/providers/:name/preferences
func (pc *ProviderController) UpdatePreferences(c *gin.Context) {
	name := c.Param("name")

	var partial map[string]interface{}
	if err := c.ShouldBindJSON(&partial); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid JSON body"})
		return
	}

	merged, err := pc.prefs.Merge(name, partial)
	if err != nil {
		var verr *prefs.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  "validation_failed",
				"field":  verr.Field,
				"reason": verr.Reason,
			})
		case errors.Is(err, prefs.ErrProviderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "provider not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": name, "preferences": merged})
}

// GetCredentialKeys returns the key names of the stored secret map,
// never the values
// GET /api/v1/providers/:name/credentials/keys
func (pc *ProviderController) GetCredentialKeys(c *gin.Context) {
	name := c.Param("name")

	keys, err := pc.vault.ReadKeyNames(name)
	if err != nil {
		pc.credentialError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": name, "keys": keys})
}

// RotateCredentials replaces the provider's full secret set
// PUT /api/v1/providers/:name/credentials
func (pc *ProviderController) RotateCredentials(c *gin.Context) {
	name := c.Param("name")

	var secrets map[string]string
	if err := c.ShouldBindJSON(&secrets); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "invalid JSON body"})
		return
	}

	if err := pc.vault.Rotate(name, secrets); err != nil {
		pc.credentialError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": name, "rotated": true})
}

// UnloadProvider discards the cached provider instance; the next scheduled
// use reloads it lazily
// POST /api/v1/providers/:name/unload
func (pc *ProviderController) UnloadProvider(c *gin.Context) {
	name := c.Param("name")
	pc.cache.Invalidate(name)
	c.JSON(http.StatusOK, gin.H{"provider": name, "unloaded": true})
}

// credentialError maps vault failures onto API responses
func (pc *ProviderController) credentialError(c *gin.Context, err error) {
	if errors.Is(err, prefs.ErrProviderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "provider not found"})
		return
	}
	var cerr *vault.CredentialError
	if errors.As(err, &cerr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "credential_error",
			"provider": cerr.Provider,
			"reason":   cerr.Reason,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
}
