package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DeviceHeader 客户端用于标识设备的请求头
const DeviceHeader = "X-Device-ID"

// maxDeviceIDLength 超过该长度的设备 ID 视为无效并重新生成
const maxDeviceIDLength = 64

// DeviceID 从请求头 (或 device_id 查询参数) 读取设备 ID，缺失时生成新的 ID 并通过响应头返回。
func DeviceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(DeviceHeader)
		if id == "" {
			id = c.Query("device_id")
		}
		if id == "" || len(id) > maxDeviceIDLength {
			id = uuid.NewString()
		}
		c.Set(ContextDeviceID, id)
		c.Header(DeviceHeader, id)
		c.Next()
	}
}

// DeviceIDFrom 返回 DeviceID 中间件写入的设备 ID
func DeviceIDFrom(c *gin.Context) string {
	return c.GetString(ContextDeviceID)
}
