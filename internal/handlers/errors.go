package handlers

import (
	"strconv"

	"github.com/chachabrian/mooveit-dispatch/internal/apperr"
	"github.com/gin-gonic/gin"
)

// exposeErrorDetail adds the underlying cause to error responses. It is set
// once at startup from APP_MODE.
var exposeErrorDetail bool

func SetDevelopmentMode(development bool) {
	exposeErrorDetail = development
}

func respondError(c *gin.Context, err error) {
	body := apperr.ToBody(err, exposeErrorDetail)
	if body.Kind == apperr.KindInternal || body.Kind == apperr.KindUpstreamFailure {
		c.Error(err)
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(body.Kind), body)
}

func bindError(c *gin.Context, err error) {
	respondError(c, apperr.Wrap(apperr.KindInvalidInput, err.Error(), err))
}

// idParam parses a positive numeric path parameter
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		respondError(c, apperr.InvalidInput("invalid "+name))
		return 0, false
	}
	return uint(id), true
}
