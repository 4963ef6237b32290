package util

import (
	"sync"

	"github.com/sony/sonyflake"
)

var (
	sonyFlake *sonyflake.Sonyflake
	once      sync.Once
)

// InitSonyFlake 初始化 Snowflake 实例
func InitSonyFlake() {
	once.Do(func() {
		sonyFlake = sonyflake.NewSonyflake(sonyflake.Settings{})
	})
}

// GenerateID 生成唯一ID，订单号/成交号共用
func GenerateID() (uint64, error) {
	if sonyFlake == nil {
		InitSonyFlake()
	}
	return sonyFlake.NextID()
}
