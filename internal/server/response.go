package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Ok writes a success envelope.
func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

// Error writes an error envelope with the HTTP status as its code.
func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// Result writes a foreground action outcome. A rejected action is still a
// well-formed response, so it is reported with code 1 and HTTP 200.
func Result(c *gin.Context, success bool, message, errText string, data any) {
	if success {
		c.JSON(http.StatusOK, apiResponse{Code: 0, Message: message, Data: data})
		return
	}
	c.JSON(http.StatusOK, apiResponse{Code: 1, Message: errText, Data: data})
}
