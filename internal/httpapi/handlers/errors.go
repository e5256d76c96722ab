package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/chat"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/common"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/httpapi/middleware"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/objectstore"
)

// failFromErr maps a domain error onto the HTTP status and envelope code.
func (h *Handler) failFromErr(c *gin.Context, err error, msg string) {
	status, code := statusFor(err)
	evt := h.Log.Warn()
	if status >= 500 {
		evt = h.Log.Error()
	}
	evt.Err(err).
		Str("request_id", middleware.RequestIDFrom(c)).
		Str("kind", string(chat.KindOf(err))).
		Msg(msg)

	if status < 500 {
		// client errors carry the reason
		msg = err.Error()
	}
	common.Fail(c, status, code, msg)
}

func statusFor(err error) (int, int) {
	if errors.Is(err, objectstore.ErrDisabled) {
		return http.StatusServiceUnavailable, 50302
	}
	switch chat.KindOf(err) {
	case chat.KindInvalid:
		return http.StatusBadRequest, 40001
	case chat.KindNotFound:
		return http.StatusNotFound, 40004
	case chat.KindUnavailable:
		return http.StatusServiceUnavailable, 50301
	case chat.KindProvider:
		return http.StatusBadGateway, 50201
	case chat.KindStorage:
		return http.StatusInternalServerError, 50002
	case chat.KindDatabase:
		return http.StatusInternalServerError, 50001
	default:
		return http.StatusInternalServerError, 50000
	}
}
