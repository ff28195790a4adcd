package physics

import (
	"math"
	"time"

	"github.com/jonboulle/clockwork"
)

// Run 一次动量运行的可取消句柄。Stop 是唯一的取消路径
type Run struct {
	ticker clockwork.Ticker
}

// C 返回 Tick 通道；已停止的句柄返回 nil（select 中永久阻塞）
func (r *Run) C() <-chan time.Time {
	if r == nil || r.ticker == nil {
		return nil
	}
	return r.ticker.Chan()
}

// Stop 停止底层 ticker，可重复调用
func (r *Run) Stop() {
	if r == nil || r.ticker == nil {
		return
	}
	r.ticker.Stop()
	r.ticker = nil
}

// Stopped 句柄是否已失效
func (r *Run) Stopped() bool { return r == nil || r.ticker == nil }

// Simulator 单个角色的动量模拟器。
// 不自带协程：由持有者在自己的事件循环中 select C() 并调用 Step，保证同一角色的 Tick 串行执行
type Simulator struct {
	clock  clockwork.Clock
	period time.Duration
	motion Motion
	run    *Run
}

// NewSimulator 创建模拟器；clock 为 nil 时使用真实时钟
func NewSimulator(clock clockwork.Clock) *Simulator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Simulator{clock: clock, period: TickPeriod}
}

// Start 以 initialRPM 开始新的运行；若已有运行则先取消，保证每个角色至多一个 ticker。
// 非有限的 initialRPM 按 0 处理，运行在下一个 Tick 停止
func (s *Simulator) Start(initialRPM float64) *Run {
	s.Stop()
	if math.IsInf(initialRPM, 0) || math.IsNaN(initialRPM) {
		initialRPM = 0
	}
	s.motion.RPM = initialRPM
	s.run = &Run{ticker: s.clock.NewTicker(s.period)}
	return s.run
}

// Stop 取消当前运行（保留角度与 rpm）
func (s *Simulator) Stop() {
	if s.run != nil {
		s.run.Stop()
		s.run = nil
	}
}

// C 当前运行的 Tick 通道
func (s *Simulator) C() <-chan time.Time { return s.run.C() }

// Running 是否有活动运行
func (s *Simulator) Running() bool { return !s.run.Stopped() }

// Step 推进一个 Tick。rpm 衰减到阈值以下时归零并自行停止，返回 false
func (s *Simulator) Step() bool {
	if s.run.Stopped() {
		return false
	}
	if Step(&s.motion, s.period) {
		return true
	}
	s.Stop()
	return false
}

// SetRPM 修改读数而不重启运行（拖动过程中的实时 RPM）
func (s *Simulator) SetRPM(rpm float64) { s.motion.RPM = rpm }

// SetAngle 直接覆盖角度（spin-update 的 angle 变体）
func (s *Simulator) SetAngle(angle float64) { s.motion.Angle = angle }

// Motion 当前运动状态副本
func (s *Simulator) Motion() Motion { return s.motion }

// Reset 停止并归零
func (s *Simulator) Reset() {
	s.Stop()
	s.motion = Motion{}
}
