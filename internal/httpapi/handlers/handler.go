package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/chat"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/common"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/config"
)

// ReadyCheck is one dependency probed by /readyz.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Handler struct {
	Cfg     *config.Config
	ChatSvc *chat.Service
	Log     zerolog.Logger
	Checks  []ReadyCheck
}

func NewHandler(cfg *config.Config, svc *chat.Service, log zerolog.Logger, checks ...ReadyCheck) *Handler {
	return &Handler{
		Cfg:     cfg,
		ChatSvc: svc,
		Log:     log.With().Str("component", "http").Logger(),
		Checks:  checks,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// Ready runs every check with a short deadline and reports the failures.
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	failed := gin.H{}
	for _, chk := range h.Checks {
		if err := chk.Check(ctx); err != nil {
			h.Log.Warn().Err(err).Str("check", chk.Name).Msg("readiness check failed")
			failed[chk.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"code":    50300,
			"message": "not ready",
			"data":    failed,
		})
		return
	}
	common.OK(c, "ready")
}
