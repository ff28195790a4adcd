package session

import "sync/atomic"

// Metrics 会话运行期计数（用于监控与调试）
type Metrics struct {
	FramesReceived  int64 // 收到的帧
	FramesDropped   int64 // 无法解码或不支持而丢弃的帧
	MessagesSent    int64 // 成功发送的消息
	SendFailures    int64 // 发送失败（非致命）
	ConnectFailures int64 // 建连失败
	TransportLost   int64 // 读失败导致的断开
	Ticks           int64 // 动量模拟 Tick 次数
	SubscriberDrops int64 // 订阅者通道满而丢弃的快照
}

func (m *Metrics) IncReceived()        { atomic.AddInt64(&m.FramesReceived, 1) }
func (m *Metrics) IncDropped()         { atomic.AddInt64(&m.FramesDropped, 1) }
func (m *Metrics) IncSent()            { atomic.AddInt64(&m.MessagesSent, 1) }
func (m *Metrics) IncSendFailures()    { atomic.AddInt64(&m.SendFailures, 1) }
func (m *Metrics) IncConnectFailures() { atomic.AddInt64(&m.ConnectFailures, 1) }
func (m *Metrics) IncTransportLost()   { atomic.AddInt64(&m.TransportLost, 1) }
func (m *Metrics) IncTick()            { atomic.AddInt64(&m.Ticks, 1) }
func (m *Metrics) IncSubscriberDrops() { atomic.AddInt64(&m.SubscriberDrops, 1) }

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"frames_received":  atomic.LoadInt64(&m.FramesReceived),
		"frames_dropped":   atomic.LoadInt64(&m.FramesDropped),
		"messages_sent":    atomic.LoadInt64(&m.MessagesSent),
		"send_failures":    atomic.LoadInt64(&m.SendFailures),
		"connect_failures": atomic.LoadInt64(&m.ConnectFailures),
		"transport_lost":   atomic.LoadInt64(&m.TransportLost),
		"ticks":            atomic.LoadInt64(&m.Ticks),
		"subscriber_drops": atomic.LoadInt64(&m.SubscriberDrops),
	}
}
