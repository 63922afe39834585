package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/serviceengine_backend/config"
	"github.com/mmdatafocus/serviceengine_backend/models"
	"github.com/mmdatafocus/serviceengine_backend/utils"
)

// respondError maps the error taxonomy onto status codes and bodies.
func respondError(c *gin.Context, funcName string, err error) {
	var nf *utils.NotFoundError
	var ve *utils.ValidationError
	var ue *utils.UnprocessableError
	var ie *utils.InternalError

	switch {
	case errors.As(err, &nf), errors.Is(err, utils.ErrorRecordNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Not Found"})
	case errors.As(err, &ve):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": ve.Message, "errors": ve.Fields})
	case errors.As(err, &ue):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"message": ue.Message, "errors": ue.Fields})
	case errors.As(err, &ie):
		config.LogError(config.GetLogger(), "handlers", funcName, "internal error", c.Request.URL.Path, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": ie.Public})
	default:
		config.LogError(config.GetLogger(), "handlers", funcName, "unmapped error", c.Request.URL.Path, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// writeWarnings surfaces best-effort failures without changing the body.
func writeWarnings(c *gin.Context, funcName string, warnings models.Warnings) {
	for _, w := range warnings {
		c.Writer.Header().Add("Warning", fmt.Sprintf("199 - %q", w))
		config.LogWarn(config.GetLogger(), "handlers", funcName, "best-effort step failed", c.Request.URL.Path, w)
	}
}

// bindJSON decodes the request body into obj. A missing body is allowed when
// optional is set.
func bindJSON(c *gin.Context, obj any, optional bool) bool {
	if optional && c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return false
	}
	return true
}

// requestPath is the absolute url of the current path, used by list links.
func requestPath(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.Path
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
