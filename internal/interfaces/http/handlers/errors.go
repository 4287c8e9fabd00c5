package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	domainErrors "github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

// statusFor maps an application error to an HTTP status.
func statusFor(err error) int {
	switch domainErrors.CodeOf(err) {
	case domainErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case domainErrors.CodeNotFound:
		return http.StatusNotFound
	case domainErrors.CodeAlreadyExists:
		return http.StatusConflict
	case domainErrors.CodeUnsupportedTransport, domainErrors.CodeTranscode:
		return http.StatusUnprocessableEntity
	case domainErrors.CodeGatewayDispatch, domainErrors.CodeMediaDownload:
		return http.StatusBadGateway
	case domainErrors.CodeServiceUnavail:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	if code := domainErrors.CodeOf(err); code != "" {
		body["code"] = code
	}
	c.JSON(statusFor(err), body)
}

// uintParam parses a positive numeric path parameter.
func uintParam(c *gin.Context, name string) (uint, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || n == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(n), true
}
