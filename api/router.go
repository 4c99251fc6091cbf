package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nemopss/fin-ng/finance/logger"
	"github.com/rs/zerolog"
)

// NewRouter wires the handler onto a gin engine. Every route except
// registration and login requires a bearer token.
func NewRouter(h *Handler, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.Middleware(log))
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method " + c.Request.Method + " not allowed"})
	})

	r.POST("/register", h.Register)
	r.POST("/login", h.Login)

	protected := r.Group("/", h.AuthMiddleware())
	protected.GET("/transactions", h.GetTransactions)
	protected.POST("/transactions", h.CreateTransaction)
	protected.GET("/transactions/:id", h.GetTransaction)
	protected.PATCH("/transactions/:id", h.PatchTransaction)
	protected.DELETE("/transactions/:id", h.DeleteTransaction)
	protected.PUT("/transactions/:id", h.MethodNotAllowed(http.MethodGet, http.MethodPatch, http.MethodDelete))

	protected.GET("/tags", h.GetTags)

	protected.GET("/sources", h.GetSources)
	protected.POST("/sources", h.CreateSource)
	protected.PUT("/sources/:source", h.UpdateSource)
	protected.PATCH("/sources/:source", h.ForbiddenPatchSource)
	protected.DELETE("/sources/:source", h.DeleteSource)

	protected.GET("/assets", h.GetAssets)
	protected.POST("/assets", h.ForbiddenCreateAsset)
	protected.GET("/assets/:source", h.GetAsset)
	protected.PUT("/assets/:source", h.MethodNotAllowed(http.MethodGet))

	protected.GET("/currencies", h.GetCurrencies)

	return r
}
