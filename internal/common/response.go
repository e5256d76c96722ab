package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OK writes the success body. The "response" key is what existing clients read.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"response": data})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}
