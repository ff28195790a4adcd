package relay

import (
	"sync/atomic"
)

// Metrics 中继运行期的关键指标（用于监控与调试）
type Metrics struct {
	Connections     int64 // 累计接入的连接
	MatchesStarted  int64 // 开局数
	MatchesFinished int64 // 结束数
	FramesRelayed   int64 // 转发给对手的 spin-update
	FramesDropped   int64 // 无法解码或与状态不符而丢弃的帧
	ChanFullDropped int64 // 因发送队列满被丢弃的帧
	TickCount       int64 // 统计的 Tick 次数
	TotalTickNs     int64 // Tick 累计耗时（纳秒）
}

func (m *Metrics) IncConnections()     { atomic.AddInt64(&m.Connections, 1) }
func (m *Metrics) IncMatchesStarted()  { atomic.AddInt64(&m.MatchesStarted, 1) }
func (m *Metrics) IncMatchesFinished() { atomic.AddInt64(&m.MatchesFinished, 1) }
func (m *Metrics) IncRelayed()         { atomic.AddInt64(&m.FramesRelayed, 1) }
func (m *Metrics) IncDropped()         { atomic.AddInt64(&m.FramesDropped, 1) }
func (m *Metrics) IncChanFullDropped() { atomic.AddInt64(&m.ChanFullDropped, 1) }
func (m *Metrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"connections":       atomic.LoadInt64(&m.Connections),
		"matches_started":   atomic.LoadInt64(&m.MatchesStarted),
		"matches_finished":  atomic.LoadInt64(&m.MatchesFinished),
		"frames_relayed":    atomic.LoadInt64(&m.FramesRelayed),
		"frames_dropped":    atomic.LoadInt64(&m.FramesDropped),
		"chan_full_dropped": atomic.LoadInt64(&m.ChanFullDropped),
		"tick_count":        tick,
		"avg_tick_ms":       avgMs,
	}
}
