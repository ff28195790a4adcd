package relay

import (
	"time"

	"fidgetfighter/protocol"
)

// PlayerID 表示连接的唯一标识
type PlayerID string

// Player 中继上的一个连接
type Player struct {
	ID       PlayerID
	Conn     *ClientConn // 网络连接的发送端（写协程）
	match    *Match
	seat     int // 1 或 2，未入局为 0
	queuedAt time.Time
}

// Input 读协程解码后的入站消息，交给 Hub 协程处理
type Input struct {
	PlayerID PlayerID
	Msg      protocol.Message
}

// Match 一局对战：两个座位、各自的峰值 |rpm| 与截止时间
type Match struct {
	ID       string
	Seats    [2]*Player
	Peak     [2]float64
	Deadline time.Time
}

// opponent 返回对手
func (m *Match) opponent(p *Player) *Player {
	if m.Seats[0] == p {
		return m.Seats[1]
	}
	return m.Seats[0]
}
