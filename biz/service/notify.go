package service

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	kafkaDal "rex-hertz/biz/dal/kafka"
	"rex-hertz/biz/engine"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/segmentio/kafka-go"
)

// Notifier 推送通知分发，fire-and-forget：失败只记录，绝不向上传播
type Notifier interface {
	Notify(userID, kind string, payload map[string]interface{})
}

// 通知类型
const (
	NotifyOrderFilled    = "ORDER_FILLED"
	NotifyOrderCancelled = "ORDER_CANCELLED"
)

// KafkaNotifier 把通知写到 Kafka，投递由下游推送服务完成
type KafkaNotifier struct {
	topic string
}

func NewKafkaNotifier(topic string) *KafkaNotifier {
	return &KafkaNotifier{topic: topic}
}

func (n *KafkaNotifier) Notify(userID, kind string, payload map[string]interface{}) {
	go func() {
		msg, err := json.Marshal(map[string]interface{}{
			"user_id":     userID,
			"kind":        kind,
			"payload":     payload,
			"server_time": time.Now().UnixMilli(),
		})
		if err != nil {
			hlog.Errorf("通知序列化失败, user_id=%s, kind=%s, err=%v", userID, kind, err)
			return
		}
		writer := kafkaDal.GetWriter(n.topic)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := writer.WriteMessages(ctx, kafka.Message{Value: msg}); err != nil {
			hlog.Errorf("通知投递失败, user_id=%s, kind=%s, err=%v", userID, kind, err)
		}
	}()
}

// WSNotifier 在线用户直接走 WebSocket 单播
type WSNotifier struct {
	unicast engine.Unicaster
}

func NewWSNotifier(unicast engine.Unicaster) *WSNotifier {
	return &WSNotifier{unicast: unicast}
}

func (n *WSNotifier) Notify(userID, kind string, payload map[string]interface{}) {
	buf := engine.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	err := json.NewEncoder(buf).Encode(map[string]interface{}{
		"type":        "notice",
		"kind":        kind,
		"payload":     payload,
		"server_time": time.Now().UnixMilli(),
	})
	if err != nil {
		engine.BufferPool.Put(buf)
		hlog.Errorf("通知序列化失败, user_id=%s, kind=%s, err=%v", userID, kind, err)
		return
	}
	msg := make([]byte, buf.Len())
	copy(msg, buf.Bytes())
	engine.BufferPool.Put(buf)
	n.unicast(userID, msg)
}

// MultiNotifier 按序分发到多个通道
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(userID, kind string, payload map[string]interface{}) {
	for _, n := range m {
		n.Notify(userID, kind, payload)
	}
}
