package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/chat"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/common"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/httpapi/middleware"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/objectstore"
)

// authorizeUser rejects a request whose form user differs from the token
// subject. Without auth every user passes.
func authorizeUser(c *gin.Context, user string) bool {
	sub, ok := middleware.UserIDFrom(c)
	if !ok || sub == user {
		return true
	}
	common.Fail(c, http.StatusForbidden, 40301, "user does not match token")
	return false
}

// bindForm parses a multipart or urlencoded body up front so an oversized
// upload is reported as 413 instead of surfacing as missing fields.
func bindForm(c *gin.Context, maxMemory int64) bool {
	err := c.Request.ParseMultipartForm(maxMemory)
	if err == nil || errors.Is(err, http.ErrNotMultipart) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		common.Fail(c, http.StatusRequestEntityTooLarge, 41301, "request body too large")
		return false
	}
	common.Fail(c, http.StatusBadRequest, 10001, "invalid form body")
	return false
}

func (h *Handler) requireForm(c *gin.Context, fields ...string) (map[string]string, bool) {
	if !bindForm(c, h.Cfg.MaxUploadBytes) {
		return nil, false
	}
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		v := strings.TrimSpace(c.PostForm(f))
		if v == "" {
			common.Fail(c, http.StatusBadRequest, 10001, fmt.Sprintf("form field %q is required", f))
			return nil, false
		}
		out[f] = v
	}
	return out, true
}

// SendChat stores the user turn (with an optional image), runs the two-pass
// completion and returns the stored assistant reply.
func (h *Handler) SendChat(c *gin.Context) {
	form, okk := h.requireForm(c, "user", "patient", "time")
	if !okk {
		return
	}
	if !authorizeUser(c, form["user"]) {
		return
	}

	req := chat.SendRequest{
		UserID:      form["user"],
		PatientID:   form["patient"],
		SessionTime: form["time"],
		Text:        c.PostForm("text"),
	}

	fh, err := c.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		common.Fail(c, http.StatusBadRequest, 10001, "invalid multipart form")
		return
	default:
		file, att, okk := h.openAttachment(c, fh)
		if !okk {
			return
		}
		defer file.Close()
		req.Image = att
	}

	reply, err := h.ChatSvc.SendMessage(c.Request.Context(), req)
	if err != nil {
		h.failFromErr(c, err, "send message failed")
		return
	}
	common.OK(c, reply)
}

func (h *Handler) openAttachment(c *gin.Context, fh *multipart.FileHeader) (multipart.File, *chat.Attachment, bool) {
	if fh.Size > h.Cfg.MaxUploadBytes {
		common.Fail(c, http.StatusRequestEntityTooLarge, 41301, "image too large")
		return nil, nil, false
	}
	file, err := fh.Open()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "cannot read image")
		return nil, nil, false
	}
	contentType, err := objectstore.DetectContentType(file)
	if err != nil {
		_ = file.Close()
		common.Fail(c, http.StatusBadRequest, 10001, "cannot read image")
		return nil, nil, false
	}
	return file, &chat.Attachment{
		Filename:    fh.Filename,
		ContentType: contentType,
		Size:        fh.Size,
		Body:        file,
	}, true
}

func (h *Handler) PastChats(c *gin.Context) {
	form, okk := h.requireForm(c, "user", "patient")
	if !okk || !authorizeUser(c, form["user"]) {
		return
	}
	sessions, err := h.ChatSvc.History().ListSessions(c.Request.Context(), form["user"], form["patient"])
	if err != nil {
		h.failFromErr(c, err, "list sessions failed")
		return
	}
	common.OK(c, sessions)
}

func (h *Handler) LoadPastChat(c *gin.Context) {
	form, okk := h.requireForm(c, "user", "patient", "session")
	if !okk || !authorizeUser(c, form["user"]) {
		return
	}
	turns, err := h.ChatSvc.History().LoadTurns(c.Request.Context(), form["user"], form["patient"], form["session"])
	if err != nil {
		h.failFromErr(c, err, "load turns failed")
		return
	}
	common.OK(c, turns)
}

func (h *Handler) DeletePastChat(c *gin.Context) {
	form, okk := h.requireForm(c, "user", "patient", "session")
	if !okk || !authorizeUser(c, form["user"]) {
		return
	}
	if err := h.ChatSvc.History().DeleteSession(c.Request.Context(), form["user"], form["patient"], form["session"]); err != nil {
		h.failFromErr(c, err, "delete session failed")
		return
	}
	common.OK(c, "ok")
}
