package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/common"
)

func (h *Handler) AudioToText(c *gin.Context) {
	if !bindForm(c, h.Cfg.MaxUploadBytes) {
		return
	}
	fh, err := c.FormFile("voice")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, `form file "voice" is required`)
		return
	}
	if fh.Size > h.Cfg.MaxUploadBytes {
		common.Fail(c, http.StatusRequestEntityTooLarge, 41301, "audio too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "cannot read audio")
		return
	}
	defer f.Close()

	text, err := h.ChatSvc.Transcribe(c.Request.Context(), fh.Filename, f)
	if err != nil {
		h.failFromErr(c, err, "transcription failed")
		return
	}
	common.OK(c, text)
}
