package server

import "github.com/gin-gonic/gin"

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	api := router.Group("/api")

	api.POST("/sessions", h.createSession)
	api.GET("/sessions", h.listSessions)
	api.GET("/sessions/:id", h.getSession)
	api.POST("/sessions/:id/heartbeat", h.heartbeat)
	api.POST("/sessions/:id/finish", h.finishSession)

	api.POST("/sessions/:id/audio/:speaker", h.appendChunk)
	api.POST("/sessions/:id/audio/:speaker/finalize", h.finalizeTrack)
	api.GET("/sessions/:id/audio/:speaker/info", h.trackInfo)
	api.GET("/sessions/:id/audio/:speaker", h.streamTrack)

	api.POST("/sessions/:id/messages", h.appendMessage)
	api.GET("/sessions/:id/messages", h.listMessages)

	api.GET("/sessions/:id/resume", h.resumeStatus)
	api.POST("/sessions/:id/resume", h.resumeSession)

	api.POST("/sweep", h.sweep)
	api.GET("/realtime/session", h.realtimeSession)
	api.GET("/events", h.events)
}
