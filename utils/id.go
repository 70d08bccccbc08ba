package utils

import (
	"github.com/google/uuid"
)

// GenerateID 生成请求/临时文件使用的唯一ID
func GenerateID() string {
	return uuid.NewString()
}
