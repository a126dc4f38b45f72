package api

import (
	"github.com/gin-contrib/cors"
	"github.com/wb-go/wbf/ginext"

	"festreg/cmd/middleware"
	"festreg/internal/service"
)

type Routers struct {
	Service service.Service
}

func NewRouters(r *Routers) *ginext.Engine {
	app := ginext.New("release")

	app.Use(middleware.LoggingMiddleware())
	app.Use(cors.Default())
	apiGroup := app.Group("/v1")

	apiGroup.POST("/events", r.Service.CreateEvent)
	apiGroup.GET("/events", r.Service.GetAllEvents)
	apiGroup.GET("/events/:id", r.Service.GetInfo)
	apiGroup.POST("/events/:id/publish", r.Service.PublishEvent)

	apiGroup.PUT("/events/:id/form", r.Service.UpsertForm)
	apiGroup.GET("/events/:id/form", r.Service.GetForm)

	apiGroup.POST("/events/:id/register", r.Service.Register)
	apiGroup.GET("/events/:id/registrations", r.Service.ListRegistrations)
	apiGroup.PATCH("/registrations/:id/status", r.Service.UpdateRegistrationStatus)

	apiGroup.POST("/events/:id/sheet/sync", r.Service.SyncSheet)
	apiGroup.GET("/events/:id/sheet", r.Service.GetSheetStatus)

	return app
}
