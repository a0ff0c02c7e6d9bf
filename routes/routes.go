package routes

import (
	"quasar_backend/controllers"
	"quasar_backend/middleware"
	"quasar_backend/services/lifecycle"
	"quasar_backend/services/prefs"
	"quasar_backend/services/registry"
	"quasar_backend/services/vault"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRoutes sets up the provider configuration API
func SetupRoutes(router *gin.Engine, db *gorm.DB, reg *registry.Storage, prefStore *prefs.Store, v *vault.Vault, cache *lifecycle.Cache) {
	authController := controllers.NewAuthController(db)
	providerController := controllers.NewProviderController(reg, prefStore, v, cache)

	api := router.Group("/api/v1")
	{
		// Operator login
		auth := api.Group("/auth")
		{
			auth.POST("/login", authController.Login)
		}

		// Provider configuration, operator token required
		providers := api.Group("/providers")
		providers.Use(middleware.OperatorAuthMiddleware())
		{
			providers.GET("", providerController.ListProviders)
			providers.GET("/schema/:kind", providerController.GetSchema)
			providers.GET("/:name", providerController.GetProvider)
			providers.GET("/:name/preferences", providerController.GetPreferences)
			providers.PATCH("/:name/preferences", providerController.UpdatePreferences)
			providers.GET("/:name/credentials/keys", providerController.GetCredentialKeys)
			providers.PUT("/:name/credentials", providerController.RotateCredentials)
			providers.POST("/:name/unload", providerController.UnloadProvider)
		}
	}
}
