package app

import (
	"context"
	"net/http"

	"social-login-service/internal/account"
	"social-login-service/internal/audit"
	"social-login-service/internal/auth/flow"
	"social-login-service/internal/auth/handler"
	"social-login-service/internal/auth/resolver"
	"social-login-service/internal/auth/validator"
	"social-login-service/internal/config"
	"social-login-service/internal/middleware"
	"social-login-service/internal/session"

	"github.com/gin-gonic/gin"
)

func setupHTTP(ctx context.Context, cfg config.Config) (*gin.Engine, func() error, error) {

	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	router, err := buildRouter(ctx, cfg, infra)
	if err != nil {
		_ = infra.Close()
		return nil, nil, err
	}
	return router, infra.Close, nil
}

func buildRouter(ctx context.Context, cfg config.Config, infra *Infra) (*gin.Engine, error) {

	// ----------------------------
	// Dependencies
	// ----------------------------

	registry, err := setupProviders(ctx, cfg)
	if err != nil {
		return nil, err
	}

	policy, err := resolver.ParseLinkPolicy(cfg.AccountLinkPolicy)
	if err != nil {
		return nil, err
	}

	sessionStore := session.NewRedisStore(infra.Redis.Client)
	sessionIssuer := session.NewIssuer(sessionStore, session.CookieOptions{
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	accounts := account.NewPostgresStore(infra.DB)
	identityResolver := resolver.NewStoreResolver(
		accounts,
		resolver.WithLinkPolicy(policy),
	)

	bus := flow.NewBus()
	audit.Register(bus, infra.Audit)

	controller, err := flow.New(
		flow.Config{
			PublicBaseURL:       cfg.PublicBaseURL,
			DefaultDestination:  cfg.DefaultPostLoginDestination,
			LoginURL:            cfg.LoginURL,
			AllowClientSideFlow: cfg.AllowClientSideFlow,
			StateTTL:            cfg.FlowStateTTL,
		},
		registry,
		flow.NewRedisStateStore(infra.Redis.Client),
		validator.New(),
		identityResolver,
		sessionIssuer,
		flow.WithBus(bus),
	)
	if err != nil {
		return nil, err
	}

	authHandler := handler.NewHandler(
		registry,
		controller,
		sessionIssuer,
		handler.CookieConfig{
			Secure:  cfg.CookieSecure,
			FlowTTL: cfg.FlowStateTTL,
		},
	)

	authMiddleware := middleware.NewAuthMiddleware(sessionStore)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())

	authHandler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ----------------------------
	// Protected API Routes
	// ----------------------------

	api := router.Group("/api")
	api.Use(middleware.GinRequireAuth(authMiddleware))

	api.GET("/me", handler.Me(accounts))

	return router, nil
}
