package engine

import (
	"bytes"
	"sync"

	"github.com/panjf2000/ants/v2"
)

var BufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

var BroadcastPool *ants.Pool

func InitBroadcastPool(size int) error {
	pool, err := ants.NewPool(size)
	if err != nil {
		return err
	}
	BroadcastPool = pool
	return nil
}

// Broadcaster 频道广播回调类型
type Broadcaster func(channel string, msg []byte)

// Unicaster 用户单播回调类型
type Unicaster func(userID string, msg []byte)
