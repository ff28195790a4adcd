package session

import (
	"strings"

	"fidgetfighter/physics"
	"fidgetfighter/protocol"
)

// Outcome 本地玩家视角的对局结果
type Outcome string

const (
	OutcomeWin     Outcome = "win"
	OutcomeLoss    Outcome = "loss"
	OutcomeDraw    Outcome = "draw"
	OutcomeUnknown Outcome = "unknown"
)

// GameResult 每局一次，创建后不可变；仅在 GameOver 状态下存在
type GameResult struct {
	Winner     string  `json:"winner"`
	Player1RPM float64 `json:"player1RPM"`
	Player2RPM float64 `json:"player2RPM"`
	Seat       int     `json:"seat"`
	Outcome    Outcome `json:"outcome"`
}

// SelfRPM 本地座位对应的结算 RPM
func (r GameResult) SelfRPM() float64 {
	if r.Seat == 2 {
		return r.Player2RPM
	}
	return r.Player1RPM
}

// OpponentRPM 对手座位对应的结算 RPM
func (r GameResult) OpponentRPM() float64 {
	if r.Seat == 2 {
		return r.Player1RPM
	}
	return r.Player2RPM
}

// outcomeFor 根据结果文本判定胜负，例如 "Player 1 Wins!"
func outcomeFor(winner string, seat int) Outcome {
	w := strings.ToLower(winner)
	switch {
	case strings.Contains(w, "draw"):
		return OutcomeDraw
	case strings.HasPrefix(w, "player 1"):
		if seat == 1 {
			return OutcomeWin
		}
		return OutcomeLoss
	case strings.HasPrefix(w, "player 2"):
		if seat == 2 {
			return OutcomeWin
		}
		return OutcomeLoss
	default:
		return OutcomeUnknown
	}
}

// Record 内存中的胜负统计（不持久化）
type Record struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
}

func (r *Record) add(o Outcome) {
	switch o {
	case OutcomeWin:
		r.Wins++
	case OutcomeLoss:
		r.Losses++
	case OutcomeDraw:
		r.Draws++
	}
}

// Snapshot 界面层可读的会话视图（只读副本）
type Snapshot struct {
	ID            string         `json:"id"`
	State         State          `json:"state"`
	Status        string         `json:"status"`
	Self          physics.Motion `json:"self"`
	Opponent      physics.Motion `json:"opponent"`
	Result        *GameResult    `json:"result,omitempty"`
	Record        Record         `json:"record"`
	ServerMessage string         `json:"serverMessage,omitempty"`
	LastError     string         `json:"lastError,omitempty"`
}

// Handler 按协议变体注册的回调，在事件循环中按接收顺序执行，不得阻塞
type Handler func(protocol.Message)

// Snapshot 返回当前会话视图
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	if snap.Result != nil {
		r := *snap.Result
		snap.Result = &r
	}
	return snap
}

// Subscribe 订阅状态变化与消息驱动的更新。通道满时丢弃（保持顺序），
// 返回的 cancel 关闭通道
func (s *Session) Subscribe(buf int) (<-chan Snapshot, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Snapshot, buf)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Handle 为某一事件注册回调
func (s *Session) Handle(ev protocol.Event, fn Handler) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.handlers[ev] = append(s.handlers[ev], fn)
}

func (s *Session) runHandlers(m protocol.Message) {
	s.hmu.RLock()
	hs := append([]Handler(nil), s.handlers[m.Event()]...)
	s.hmu.RUnlock()
	for _, h := range hs {
		h(m)
	}
}

// refresh 由事件循环调用：重建快照；notify 时推送给订阅者
func (s *Session) refresh(notify bool) {
	snap := Snapshot{
		ID:            s.id,
		State:         s.machine.State(),
		Status:        s.machine.State().Status(),
		Self:          s.self.Motion(),
		Opponent:      s.opp.Motion(),
		Record:        s.record,
		ServerMessage: s.serverMsg,
		LastError:     s.lastErr,
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	if !notify {
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			s.metrics.IncSubscriberDrops()
		}
	}
}
