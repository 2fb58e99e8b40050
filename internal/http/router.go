package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/proofmarked/stepup-gateway/internal/config"
	"github.com/proofmarked/stepup-gateway/internal/http/handler"
	httpmiddleware "github.com/proofmarked/stepup-gateway/internal/http/middleware"
	"github.com/proofmarked/stepup-gateway/internal/middleware"
)

// NewRouter wires Gin routes and middleware. The assurance gateway runs on
// every request after the transport middleware, so the protected-prefix
// rules apply uniformly to API and page routes alike.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, gateway *httpmiddleware.Gateway, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(gateway.Handler())

	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/login", authHandler.PostLogin)
		authGroup.POST("/logout", authHandler.PostLogout)
		authGroup.POST("/register", authHandler.PostRegister)
		authGroup.POST("/set-password", authHandler.PostSetPassword)

		mfa := authGroup.Group("/mfa")
		{
			mfa.POST("/challenge", authHandler.PostMFAChallenge)
			mfa.POST("/verify", authHandler.PostMFAVerify)
			mfa.GET("/enroll", authHandler.GetEnroll)
			mfa.POST("/enroll", authHandler.PostEnroll)
		}
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
