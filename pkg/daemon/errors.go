package daemon

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlie0129/mvnd/pkg/driver"
)

var errBadRequest = errors.New("bad request")

// httpStatus maps driver errors to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, driver.ErrInvalidStateTransition),
		errors.Is(err, driver.ErrInvalidOperation),
		errors.Is(err, driver.ErrNotCalibrating),
		errors.Is(err, driver.ErrAlreadyConnected),
		errors.Is(err, driver.ErrCalibrationAborted):
		return http.StatusConflict
	case errors.Is(err, driver.ErrUnknownBodyPart):
		return http.StatusNotFound
	case errors.Is(err, driver.ErrInvalidCalibrationType),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, driver.ErrConnectionTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, driver.ErrConnection):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	code := httpStatus(err)
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}
