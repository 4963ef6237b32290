package server

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/websocket"
	"github.com/segmentio/kafka-go"

	"rex-hertz/biz/engine"
	"rex-hertz/conf"
)

const shardNum = 32

// 订单簿频道前缀，频道名形如 topic/order-book/{funding_id}
const orderBookChannelPrefix = "topic/order-book/"

var upgrader = websocket.HertzUpgrader{
	CheckOrigin: func(ctx *app.RequestContext) bool {
		return true // 允许所有跨域 WebSocket 连接
	},
}

type ChannelShard struct {
	Mu     sync.RWMutex
	Subs   map[string]map[*websocket.Conn]struct{}
	MsgBuf map[string]chan []byte // 每个频道的消息缓冲区
}

var channelShards [shardNum]*ChannelShard

// SnapshotFetcher 订阅时推送全量快照，由 main 注入，
// 返回可直接下发的 FULL 事件报文
var SnapshotFetcher func(ctx context.Context, fundingID string) ([]byte, error)

func init() {
	for i := 0; i < shardNum; i++ {
		channelShards[i] = &ChannelShard{
			Subs:   make(map[string]map[*websocket.Conn]struct{}),
			MsgBuf: make(map[string]chan []byte),
		}
	}
}

// 启动频道消息分发 goroutine，调用方必须持有 shard.Mu 写锁
func ensureChannelDispatcher(shard *ChannelShard, channel string) {
	if _, ok := shard.MsgBuf[channel]; ok {
		return
	}
	msgBuf := make(chan []byte, 4096)
	shard.MsgBuf[channel] = msgBuf
	go func() {
		for msg := range msgBuf {
			shard.Mu.RLock()
			conns := shard.Subs[channel]
			for conn := range conns {
				conn := conn
				err := engine.BroadcastPool.Submit(func() {
					success := false
					for i := 0; i < 3; i++ {
						if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
							log.Printf("broadcast error: %v, retry %d", err, i+1)
						} else {
							success = true
							break
						}
					}
					if !success {
						log.Printf("conn write failed after retries, will remove from channel: %v", conn.RemoteAddr())
						shard := GetChannelShard(channel)
						shard.Mu.Lock()
						delete(shard.Subs[channel], conn)
						if len(shard.Subs[channel]) == 0 {
							delete(shard.Subs, channel)
						}
						shard.Mu.Unlock()
						cleanConnFromAllChannels(conn)
						_ = conn.Close()
					}
				})
				if err != nil {
					log.Printf("broadcastPool.Submit error: %v, conn: %v", err, conn.RemoteAddr())
				}
			}
			shard.Mu.RUnlock()
		}
		shard.Mu.Lock()
		delete(shard.MsgBuf, channel)
		shard.Mu.Unlock()
	}()
}

func GetChannelShard(channel string) *ChannelShard {
	h := fnv32(channel)
	return channelShards[h%shardNum]
}

func fnv32(key string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return h
}

// subscribeChannel 注册订阅并确保分发 goroutine 已启动，
// MsgBuf 的读写全部在 shard.Mu 写锁内完成
func subscribeChannel(conn *websocket.Conn, channel string) {
	shard := GetChannelShard(channel)
	shard.Mu.Lock()
	if shard.Subs[channel] == nil {
		shard.Subs[channel] = make(map[*websocket.Conn]struct{})
	}
	shard.Subs[channel][conn] = struct{}{}
	ensureChannelDispatcher(shard, channel)
	shard.Mu.Unlock()
}

func unsubscribeChannel(conn *websocket.Conn, channel string) {
	shard := GetChannelShard(channel)
	shard.Mu.Lock()
	if conns, ok := shard.Subs[channel]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(shard.Subs, channel)
		}
	}
	shard.Mu.Unlock()
}

type Message struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
	UserID  string `json:"user_id"`
}

func parseAction(msg []byte) Message {
	var m Message
	_ = json.Unmarshal(msg, &m)
	return m
}

// 清理连接所有频道订阅
func cleanConnFromAllChannels(c *websocket.Conn) {
	for i := 0; i < shardNum; i++ {
		shard := channelShards[i]
		shard.Mu.Lock()
		for ch, conns := range shard.Subs {
			if conns != nil {
				if _, ok := conns[c]; ok {
					delete(conns, c)
					if len(conns) == 0 {
						delete(shard.Subs, ch)
					}
				}
			}
		}
		shard.Mu.Unlock()
	}
}

// Broadcast 广播消息到频道
func Broadcast(channel string, msg []byte) {
	shard := GetChannelShard(channel)
	shard.Mu.Lock()
	ensureChannelDispatcher(shard, channel)
	buf, ok := shard.MsgBuf[channel]
	shard.Mu.Unlock()
	if ok && buf != nil {
		select {
		case buf <- msg:
			// 写入成功
		default:
			log.Printf("channel %s buffer full, drop message", channel)
			go saveDroppedMessage(channel, msg)
		}
	}
}

// 丢弃的消息异步写入 Kafka，便于事后补发排查
func saveDroppedMessage(channel string, msg []byte) {
	go func() {
		topic := "dropped_" + strings.ReplaceAll(channel, "/", "_")
		w := getDroppedKafkaWriter(topic)
		if w == nil {
			log.Printf("failed to get dropped kafka writer for topic %s", topic)
			return
		}
		_ = w.WriteMessages(context.Background(), kafka.Message{Value: msg})
	}()
}

var droppedKafkaWriters sync.Map // map[topic]*kafka.Writer

func getDroppedKafkaWriter(topic string) *kafka.Writer {
	if w, ok := droppedKafkaWriters.Load(topic); ok {
		return w.(*kafka.Writer)
	}

	brokers := conf.GetConf().Kafka.Brokers
	w := &kafka.Writer{
		Addr:  kafka.TCP(brokers...),
		Topic: topic,
		Async: true,
	}
	droppedKafkaWriters.Store(topic, w)
	return w
}

// WSHandler WebSocket 接入点，注册在主服务 /ws 路由上。
// 协议：{"action":"subscribe","channel":"topic/order-book/F-1001"}，
// 订阅成功先回 ack，再推一条全量快照
func WSHandler(ctx context.Context, c *app.RequestContext) {
	err := upgrader.Upgrade(c, func(conn *websocket.Conn) {
		var authedUser string
		defer func() {
			cleanConnFromAllChannels(conn)
			if authedUser != "" {
				UnregisterUserConn(authedUser)
			}
			if err := conn.Close(); err != nil {
				log.Printf("close error: %v", err)
			}
		}()

		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}

			m := parseAction(msg)
			switch {
			case m.Action == "subscribe" && m.Channel != "":
				subscribeChannel(conn, m.Channel)
				ack := []byte(`{"type":"subscription_ack","channel":"` + m.Channel + `"}`)
				if err := conn.WriteMessage(mt, ack); err != nil {
					log.Printf("ack error: %v", err)
				}
				// 订单簿频道订阅后立即补一条全量，客户端以此为基线消费增量
				if fundingID := strings.TrimPrefix(m.Channel, orderBookChannelPrefix); fundingID != m.Channel && SnapshotFetcher != nil {
					if full, err := SnapshotFetcher(ctx, fundingID); err != nil {
						log.Printf("snapshot fetch error: funding_id=%s, err=%v", fundingID, err)
					} else if err := conn.WriteMessage(mt, full); err != nil {
						log.Printf("snapshot push error: %v", err)
					}
				}
			case m.Action == "unsubscribe" && m.Channel != "":
				unsubscribeChannel(conn, m.Channel)
				ack := []byte(`{"type":"unsubscription_ack","channel":"` + m.Channel + `"}`)
				if err := conn.WriteMessage(mt, ack); err != nil {
					log.Printf("ack error: %v", err)
				}
			case m.Action == "auth" && m.UserID != "":
				authedUser = m.UserID
				RegisterUserConn(m.UserID, conn)
				ack := []byte(`{"type":"auth_ack","user_id":"` + m.UserID + `"}`)
				if err := conn.WriteMessage(mt, ack); err != nil {
					log.Printf("ack error: %v", err)
				}
			}
		}
	})
	if err != nil {
		log.Printf("upgrade error: %v", err)
	}
}

// 用户ID到连接的映射
var userConnMap sync.Map // map[userID]*websocket.Conn

func RegisterUserConn(userID string, conn *websocket.Conn) {
	userConnMap.Store(userID, conn)
}

func UnregisterUserConn(userID string) {
	userConnMap.Delete(userID)
}

// Unicast 单播消息到指定 userID
func Unicast(userID string, msg []byte) {
	if v, ok := userConnMap.Load(userID); ok {
		if conn, ok := v.(*websocket.Conn); ok {
			_ = conn.WriteMessage(websocket.TextMessage, msg)
		}
	}
}
