package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/common"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/config"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/httpapi/handlers"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/httpapi/middleware"
)

// formOverhead leaves room for the text fields and multipart framing next to
// one file of MaxUploadBytes.
const formOverhead = 64 << 10

func NewRouter(cfg *config.Config, h *handlers.Handler, log zerolog.Logger) *gin.Engine {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.MaxMultipartMemory = cfg.MaxUploadBytes
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(cors.New(corsConfig(cfg.CORSAllowOrigins)))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/readyz", h.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group(cfg.RoutePrefix)
	api.Use(middleware.BodyLimit(cfg.MaxUploadBytes + formOverhead))
	api.Use(middleware.AuthRequired(cfg.JWTSecret))

	api.POST("/audio_to_text", h.AudioToText)
	api.POST("/chat/diagnostic_model/organ", h.ClassifyOrgan)
	api.POST("/chat/diagnostic_model/model", h.ClassifyModel)
	api.POST("/chat/gpt", h.SendChat)

	// past sessions
	api.POST("/gpt_past_chats", h.PastChats)
	api.POST("/load_past_chat", h.LoadPastChat)
	api.POST("/delete_past_chat", h.DeletePastChat)
	return r
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		// credentials with "*" are rejected by gin-contrib/cors, so echo the origin
		cc.AllowOriginFunc = func(string) bool { return true }
	} else {
		cc.AllowOrigins = origins
	}
	return cc
}
