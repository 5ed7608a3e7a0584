package app

import (
	"github.com/gin-gonic/gin"

	"storefront/internal/handler"
	"storefront/internal/middleware"
)

// base installs the middleware shared by every service and the gateway
func (a *App) base() *gin.Engine {
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.Logger())
	if a.cfg.Security.CORS.Enabled {
		router.Use(middleware.CORSWithOrigins(a.cfg.Security.CORS.AllowOrigins))
	}
	router.Use(middleware.Metrics(a.metrics))
	router.Use(middleware.Tracing(a.tracer))
	if a.cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(a.cfg.RateLimit.RPS, a.cfg.RateLimit.Burst))
	}
	router.Use(middleware.Timeout(a.cfg.Server.RequestTimeout))

	router.GET("/healthz/live", a.health.Live)
	router.GET("/healthz/ready", a.health.Ready)
	if a.cfg.Metrics.Enabled {
		router.GET(a.cfg.Metrics.Path, gin.WrapH(a.metrics.Handler()))
	}

	return router
}

func (a *App) newRouter() *gin.Engine {
	router := a.base()

	if a.roles[RoleOrder] {
		authHandler := handler.NewAuthHandler(a.authService)
		router.POST("/auth/token", authHandler.Token)
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(handler.TokenValidator(a.authService)))
	{
		if a.roles[RoleCatalog] {
			catalogHandler := handler.NewCatalogHandler(a.catalogService)
			v1.GET("/catalog", catalogHandler.ListProducts)
			v1.GET("/catalog/:id", catalogHandler.GetProduct)
		}

		if a.roles[RoleOrder] {
			orderHandler := handler.NewOrderHandler(a.orderService)
			v1.POST("/orders", orderHandler.CreateOrder)
			v1.GET("/orders", orderHandler.ListOrders)
			v1.GET("/orders/:id", orderHandler.GetOrder)
		}

		if a.roles[RoleDesign] {
			designHandler := handler.NewDesignHandler(a.designService)
			v1.POST("/designs", designHandler.CreateDesign)
			v1.GET("/designs", designHandler.ListDesigns)
			v1.GET("/designs/:id", designHandler.GetDesign)
		}
	}

	return router
}

// newGatewayRouter proxies the resource routes; upstreams enforce authentication
func (a *App) newGatewayRouter() *gin.Engine {
	router := a.base()
	a.gateway.Register(router)
	return router
}
