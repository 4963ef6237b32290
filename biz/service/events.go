package service

import (
	"context"
	"encoding/json"
	"time"

	kafkaDal "rex-hertz/biz/dal/kafka"
	"rex-hertz/biz/model"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/segmentio/kafka-go"
)

// 订单事件类型
const (
	OrderEventAccepted  = "ORDER_ACCEPTED"
	OrderEventCancelled = "ORDER_CANCELLED"
)

// EventPublisher 事务提交后的事件发布，下游消费方自理
type EventPublisher interface {
	PublishOrderEvent(evtType string, order *model.Order)
	PublishTrade(trade model.Trade)
}

type topicMessage struct {
	topic   string
	payload []byte
}

// KafkaEventPublisher 批量异步写 Kafka：单协程攒批，满 100 条或
// 10ms 定时冲刷，关闭时写完剩余再退出
type KafkaEventPublisher struct {
	orderTopic string
	tradeTopic string
	ch         chan topicMessage
	closeCh    chan struct{}
}

func NewKafkaEventPublisher(orderTopic, tradeTopic string) *KafkaEventPublisher {
	p := &KafkaEventPublisher{
		orderTopic: orderTopic,
		tradeTopic: tradeTopic,
		ch:         make(chan topicMessage, 10000),
		closeCh:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *KafkaEventPublisher) PublishOrderEvent(evtType string, order *model.Order) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":        evtType,
		"order":       order,
		"server_time": time.Now().UnixMilli(),
	})
	if err != nil {
		hlog.Errorf("订单事件序列化失败, order_id=%s, err=%v", order.OrderID, err)
		return
	}
	p.enqueue(topicMessage{topic: p.orderTopic, payload: payload})
}

func (p *KafkaEventPublisher) PublishTrade(trade model.Trade) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":        "TRADE",
		"trade":       trade,
		"server_time": time.Now().UnixMilli(),
	})
	if err != nil {
		hlog.Errorf("成交事件序列化失败, trade_id=%s, err=%v", trade.TradeID, err)
		return
	}
	p.enqueue(topicMessage{topic: p.tradeTopic, payload: payload})
}

func (p *KafkaEventPublisher) enqueue(msg topicMessage) {
	select {
	case p.ch <- msg:
	default:
		hlog.Warnf("事件缓冲区已满，丢弃事件, topic=%s", msg.topic)
	}
}

func (p *KafkaEventPublisher) Shutdown() {
	close(p.closeCh)
}

func (p *KafkaEventPublisher) run() {
	batches := make(map[string][]kafka.Message)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case msg := <-p.ch:
			batches[msg.topic] = append(batches[msg.topic], kafka.Message{Value: msg.payload})
			if len(batches[msg.topic]) >= 100 {
				flushBatch(msg.topic, batches)
			}
		case <-ticker.C:
			for topic := range batches {
				flushBatch(topic, batches)
			}
		case <-p.closeCh:
			// 收到关闭信号，写完剩余数据再退出
			for {
				select {
				case msg := <-p.ch:
					batches[msg.topic] = append(batches[msg.topic], kafka.Message{Value: msg.payload})
					continue
				default:
				}
				break
			}
			for topic := range batches {
				flushBatch(topic, batches)
			}
			return
		}
	}
}

func flushBatch(topic string, batches map[string][]kafka.Message) {
	batch := batches[topic]
	if len(batch) == 0 {
		return
	}
	writer := kafkaDal.GetWriter(topic)
	if err := writer.WriteMessages(context.Background(), batch...); err != nil {
		hlog.Errorf("批量写入Kafka失败, topic=%s, err=%v", topic, err)
	}
	batches[topic] = batch[:0]
}
