package session

import (
	"errors"
	"fmt"
)

// State 会话连接生命周期
type State int

const (
	Disconnected State = iota
	Connecting
	Waiting
	InGame
	GameOver
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Waiting:
		return "Waiting"
	case InGame:
		return "InGame"
	case GameOver:
		return "GameOver"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status 供界面展示的状态文本
func (s State) Status() string {
	switch s {
	case Connecting:
		return "Connecting..."
	case Waiting:
		return "Finding Match..."
	case InGame:
		return "In Game"
	case GameOver:
		return "Game Over"
	default:
		return "Disconnected"
	}
}

// MarshalText 状态在 JSON 中以名称输出
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ErrIllegalTransition 状态机拒绝的迁移
var ErrIllegalTransition = errors.New("illegal transition")

// 合法迁移表；任何状态都可以回到 Disconnected（显式断开或传输失败）
var transitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Waiting, Disconnected},
	Waiting:      {InGame, Disconnected},
	InGame:       {InGame, GameOver, Disconnected},
	GameOver:     {Disconnected},
}

// CanTransition 判断 from → to 是否合法
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine 会话状态机；零值即初始状态 Disconnected
type Machine struct {
	state State
}

// State 当前状态
func (m *Machine) State() State { return m.state }

// To 执行迁移，非法时状态不变并返回 ErrIllegalTransition
func (m *Machine) To(next State) error {
	if !CanTransition(m.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, next)
	}
	m.state = next
	return nil
}
