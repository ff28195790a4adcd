package physics

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// VelocityToRPMScale 拖动速度（像素/秒）到 RPM 的换算系数
	VelocityToRPMScale = 6.0
	// AngleScale 每 Tick 角度推进的放大系数，与 VelocityToRPMScale 互为倒数关系
	AngleScale = 6.0
	// Friction 每 Tick 的衰减系数
	Friction = 0.98
	// StopThreshold |rpm| 不大于该值时视为静止
	StopThreshold = 0.1
	// TickPeriod 动量模拟的固定步长（约 60Hz）
	TickPeriod = 16 * time.Millisecond
)

// GestureSample 一次拖动输入事件：位移增量与时间增量
type GestureSample struct {
	PositionDelta  float64
	TimestampDelta time.Duration
}

// SignPolicy 决定拖动方向是否影响旋转方向（由调用方按场景选择）
type SignPolicy int

const (
	// Signed 保留速度符号：反向拖动会反向旋转
	Signed SignPolicy = iota
	// Absolute 取速度绝对值：任何方向的拖动都正向旋转
	Absolute
)

func (p SignPolicy) String() string {
	switch p {
	case Signed:
		return "signed"
	case Absolute:
		return "absolute"
	default:
		return fmt.Sprintf("SignPolicy(%d)", int(p))
	}
}

// ParseSignPolicy 解析配置中的符号策略名
func ParseSignPolicy(s string) (SignPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "signed":
		return Signed, nil
	case "absolute", "abs":
		return Absolute, nil
	default:
		return Signed, fmt.Errorf("unknown sign policy %q", s)
	}
}

// ComputeRPM 由一次拖动采样计算 RPM。时间增量不为正、或结果溢出为非有限值时返回 prev
func ComputeRPM(prev float64, s GestureSample, policy SignPolicy) float64 {
	if s.TimestampDelta <= 0 {
		return prev
	}
	velocity := s.PositionDelta / s.TimestampDelta.Seconds()
	rpm := velocity / VelocityToRPMScale
	if math.IsInf(rpm, 0) || math.IsNaN(rpm) {
		return prev
	}
	if policy == Absolute {
		rpm = math.Abs(rpm)
	}
	return rpm
}

// Motion 单个角色（自己/对手）的运动状态。Angle 不做取模，仅显示时折算
type Motion struct {
	Angle float64 `json:"angle"`
	RPM   float64 `json:"rpm"`
}

// DisplayAngle 折算到 [0, 360) 的显示角度
func (m Motion) DisplayAngle() float64 {
	a := math.Mod(m.Angle, 360)
	if a < 0 {
		a += 360
	}
	return a
}

// Step 推进一个 Tick：仍在转动则累加角度并衰减，返回 true；
// 低于阈值则将 rpm 归零并返回 false（终止态）
func Step(m *Motion, period time.Duration) bool {
	if math.Abs(m.RPM) > StopThreshold {
		m.Angle += m.RPM * period.Seconds() * AngleScale
		m.RPM *= Friction
		return true
	}
	m.RPM = 0
	return false
}

// Gesture 跟踪一次拖动过程中的 RPM（对应拖动中的实时读数）
type Gesture struct {
	Policy SignPolicy
	rpm    float64
}

// NewGesture 以指定符号策略创建拖动跟踪器
func NewGesture(policy SignPolicy) *Gesture {
	return &Gesture{Policy: policy}
}

// Sample 消费一次采样并返回当前 RPM
func (g *Gesture) Sample(s GestureSample) float64 {
	g.rpm = ComputeRPM(g.rpm, s, g.Policy)
	return g.rpm
}

// RPM 当前读数
func (g *Gesture) RPM() float64 { return g.rpm }

// Release 结束拖动：返回最终 RPM 并复位
func (g *Gesture) Release() float64 {
	rpm := g.rpm
	g.rpm = 0
	return rpm
}

// Reset 丢弃当前拖动
func (g *Gesture) Reset() { g.rpm = 0 }
