package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 返回统一的错误结构
func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

// SuccessResponse 直接返回数据
func SuccessResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, data)
}

// bindError 返回请求体校验失败的响应
func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input", "details": err.Error()})
}
