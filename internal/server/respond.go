package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/checkout"
	"github.com/VitorFirmino/cachelab/directive"
	"github.com/VitorFirmino/cachelab/profile"
	"github.com/VitorFirmino/cachelab/storefront"
)

// Codes of errors that do not come from a domain package.
const (
	CodeInvalidInput = "INVALID_INPUT"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInternal     = "INTERNAL"
)

// Mutations answer with a discriminated result: {"ok": true, ...} or
// {"ok": false, "code": ..., "message": ..., ...}.
func ok(c *gin.Context, status int, fields gin.H) {
	body := gin.H{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(status, body)
}

func fail(c *gin.Context, status int, code, message string, extra gin.H) {
	body := gin.H{"ok": false, "code": code, "message": message}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}

// failErr maps an error from the storefront to a response. Business
// errors keep their message; anything else is logged and hidden.
func (s *Server) failErr(c *gin.Context, err error) {
	var (
		ce *checkout.Error
		pe *profile.Error
	)
	switch {
	case errors.As(err, &ce):
		s.failCheckout(c, ce)
	case errors.As(err, &pe):
		status := http.StatusBadRequest
		if pe.Kind == profile.KindStorage {
			status = http.StatusServiceUnavailable
			s.log.Error("http.profile_storage_failed", cachelab.Fields{"err": err})
		}
		fail(c, status, pe.Code, pe.Message, nil)
	case errors.Is(err, storefront.ErrInvalidInput):
		fail(c, http.StatusBadRequest, CodeInvalidInput, err.Error(), nil)
	case errors.Is(err, storefront.ErrNotFound):
		fail(c, http.StatusNotFound, CodeNotFound, "not found", nil)
	default:
		s.log.Error("http.internal_error", cachelab.Fields{"path": c.FullPath(), "err": err})
		fail(c, http.StatusInternalServerError, CodeInternal, "internal error", nil)
	}
}

func (s *Server) failCheckout(c *gin.Context, ce *checkout.Error) {
	switch ce.Code {
	case checkout.CodeEmptyCart, checkout.CodeInvalidItem:
		fail(c, http.StatusBadRequest, ce.Code, ce.Message, nil)
	case checkout.CodeProductNotFound:
		fail(c, http.StatusNotFound, ce.Code, ce.Message, gin.H{"productId": ce.ProductID})
	case checkout.CodeInsufficientStock:
		fail(c, http.StatusConflict, ce.Code, ce.Message, gin.H{
			"productId": ce.ProductID,
			"name":      ce.Name,
			"available": ce.Available,
			"requested": ce.Requested,
		})
	default:
		fail(c, http.StatusServiceUnavailable, checkout.CodeFailed, ce.Message, nil)
	}
}

// cached writes body with the caching headers of res. generatedAt is added
// to body.
func cached[T any](c *gin.Context, res directive.Result[T], body gin.H) {
	c.Header("Cache-Control", storefront.CacheControl(res.Profile))
	c.Header("X-Cache-Status", string(res.Status))
	c.Header("X-Cache-Key", res.Key)
	c.Header("X-Generated-At", res.GeneratedAt.UTC().Format(time.RFC3339Nano))
	out := gin.H{"generatedAt": res.GeneratedAt.UTC()}
	for k, v := range body {
		out[k] = v
	}
	c.JSON(http.StatusOK, out)
}
