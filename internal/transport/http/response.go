package http

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/proto"
)

// writeData answers with a success envelope.
func writeData(c *gin.Context, status int, data any) {
	resp := proto.Response{Success: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			writeError(c, err)
			return
		}
		resp.Data = raw
	}
	c.JSON(status, resp)
}

// writeError answers with a failure envelope. Coded errors keep their code;
// anything else is reported as an internal error.
func writeError(c *gin.Context, err error) {
	coded, ok := core.AsError(err)
	if !ok {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, proto.Response{
			Error: "internal server error",
			Code:  core.ErrCodeInternal,
		})
		return
	}

	resp := proto.Response{Error: coded.Message, Code: coded.Code}
	if coded.RetryAfter > 0 {
		resp.RetryAfter = int(math.Ceil(coded.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(resp.RetryAfter))
	}
	if coded.Moderation != nil {
		resp.Moderation = &proto.ModerationData{
			Reason:      coded.Moderation.Reason,
			CleanedText: coded.Moderation.CleanedText,
			Flags:       coded.Moderation.Flags,
		}
	}
	c.JSON(statusFor(coded), resp)
}

func statusFor(e *core.Error) int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case core.KindRateLimit:
		return http.StatusTooManyRequests
	case core.KindModeration:
		return http.StatusUnprocessableEntity
	case core.KindPermission:
		return http.StatusForbidden
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindUnauthorized:
		return http.StatusUnauthorized
	case core.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// wsError converts err to an error frame payload.
func wsError(err error) proto.Error {
	if coded, ok := core.AsError(err); ok {
		code := coded.Code
		if code == "" {
			code = core.ErrCodeInternal
		}
		return proto.Error{Code: code, Message: coded.Error()}
	}
	return proto.Error{Code: core.ErrCodeInternal, Message: "internal server error"}
}

func badRequest(msg string) error {
	return core.ValidationError(msg)
}
