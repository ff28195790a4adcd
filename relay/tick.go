package relay

import "time"

const (
	// DefaultTicksPerSecond Hub 检查截止时间的频率（20 TPS）
	DefaultTicksPerSecond = 20
)

// tickIntervalFor 由 TPS 换算 Tick 间隔
func tickIntervalFor(tps int) time.Duration {
	if tps <= 0 {
		tps = DefaultTicksPerSecond
	}
	return time.Second / time.Duration(tps)
}

// tick 检查对局截止时间
func (h *Hub) tick() {
	h.tickSeq++
	now := h.clock.Now()
	for _, m := range h.matches {
		if !now.Before(m.Deadline) {
			h.endMatch(m, 0)
		}
	}
}
