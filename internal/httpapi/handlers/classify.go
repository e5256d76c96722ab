package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/common"
)

// ClassifyOrgan matches text against the organNames list.
func (h *Handler) ClassifyOrgan(c *gin.Context) { h.classify(c, "organNames") }

// ClassifyModel matches text against the modelNames list.
func (h *Handler) ClassifyModel(c *gin.Context) { h.classify(c, "modelNames") }

func (h *Handler) classify(c *gin.Context, listField string) {
	if !bindForm(c, h.Cfg.MaxUploadBytes) {
		return
	}
	text := strings.TrimSpace(c.PostForm("text"))
	if text == "" {
		common.Fail(c, http.StatusBadRequest, 10001, `form field "text" is required`)
		return
	}
	items := formList(c, listField)
	if len(items) == 0 {
		common.Fail(c, http.StatusBadRequest, 10001, "form field \""+listField+"\" is required")
		return
	}

	match, err := h.ChatSvc.Classify(c.Request.Context(), text, items)
	if err != nil {
		h.failFromErr(c, err, "classification failed")
		return
	}
	common.OK(c, match)
}

// formList accepts both repeated "name" and "name[]" fields.
func formList(c *gin.Context, name string) []string {
	var out []string
	for _, key := range []string{name, name + "[]"} {
		for _, v := range c.PostFormArray(key) {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
