package relay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"fidgetfighter/config"
	"fidgetfighter/protocol"
)

// Options 中继参数
type Options struct {
	MatchDuration  time.Duration
	TicksPerSecond int
	Clock          clockwork.Clock
	Logger         *zap.SugaredLogger
}

// OptionsFromConfig 由配置构造参数
func OptionsFromConfig(c config.RelayConfig) Options {
	return Options{MatchDuration: c.MatchDuration, TicksPerSecond: c.TicksPerSecond}
}

// Stats Hub 状态摘要（只读副本）
type Stats struct {
	Players       int   `json:"players"`
	Waiting       bool  `json:"waiting"`
	ActiveMatches int   `json:"activeMatches"`
	Tick          int64 `json:"tick"`
}

// Hub 匹配与转发中心：所有状态只在 Run 协程中修改，
// 读写协程通过通道提交加入、离开与输入
type Hub struct {
	clock         clockwork.Clock
	log           *zap.SugaredLogger
	metrics       *Metrics
	matchDuration time.Duration
	tickInterval  time.Duration

	joinChan  chan *Player
	leaveChan chan PlayerID
	inputChan chan Input
	done      chan struct{}
	running   atomic.Bool

	players map[PlayerID]*Player
	waiting *Player
	matches map[string]*Match
	tickSeq int64

	statsMu sync.RWMutex
	stats   Stats
}

// NewHub 创建 Hub，需调用 Run 启动
func NewHub(opts Options) *Hub {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.MatchDuration <= 0 {
		opts.MatchDuration = 10 * time.Second
	}
	lg := opts.Logger
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	return &Hub{
		clock:         opts.Clock,
		log:           lg,
		metrics:       &Metrics{},
		matchDuration: opts.MatchDuration,
		tickInterval:  tickIntervalFor(opts.TicksPerSecond),
		joinChan:      make(chan *Player), // 无缓冲：Join 返回时玩家已登记，之后的输入不会先于加入
		leaveChan:     make(chan PlayerID, 64),
		inputChan:     make(chan Input, 256), // 足够缓冲，避免网络读阻塞影响 Tick
		done:          make(chan struct{}),
		players:       make(map[PlayerID]*Player),
		matches:       make(map[string]*Match),
	}
}

// Metrics 运行指标
func (h *Hub) Metrics() *Metrics { return h.metrics }

// Stats 当前状态摘要
func (h *Hub) Stats() Stats {
	h.statsMu.RLock()
	defer h.statsMu.RUnlock()
	return h.stats
}

// Run Hub 主循环，阻塞直到 ctx 取消
func (h *Hub) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return errors.New("hub already running")
	}
	defer close(h.done)
	ticker := h.clock.NewTicker(h.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for id := range h.players {
				h.leave(id)
			}
			h.publishStats()
			return nil
		case p := <-h.joinChan:
			h.players[p.ID] = p
			h.log.Debugw("player joined", "player", p.ID)
		case id := <-h.leaveChan:
			h.leave(id)
		case in := <-h.inputChan:
			h.handleInput(in)
		case <-ticker.Chan():
			start := time.Now()
			h.tick()
			h.metrics.AddTick(time.Since(start).Nanoseconds())
		}
		h.publishStats()
	}
}

// Join 提交新连接；Hub 已停止时返回 false
func (h *Hub) Join(p *Player) bool {
	select {
	case h.joinChan <- p:
		return true
	case <-h.done:
		return false
	}
}

// RequestLeave 请求在 Hub 协程中移除玩家，避免并发改动状态
func (h *Hub) RequestLeave(id PlayerID) {
	select {
	case h.leaveChan <- id:
	case <-h.done:
	}
}

// OnInput 提交入站消息（阻塞，保持同一连接内的顺序）；Hub 已停止时返回 false
func (h *Hub) OnInput(in Input) bool {
	select {
	case h.inputChan <- in:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) handleInput(in Input) {
	p, ok := h.players[in.PlayerID]
	if !ok {
		return
	}
	switch m := in.Msg.(type) {
	case protocol.FindMatch:
		h.findMatch(p)
	case protocol.SpinUpdate:
		h.relaySpin(p, m)
	default:
		h.metrics.IncDropped()
		h.log.Debugw("unexpected client event", "player", p.ID, "event", in.Msg.Event())
	}
}

// findMatch 有人在等则配对，否则排队并回复 waiting
func (h *Hub) findMatch(p *Player) {
	if p.match != nil || h.waiting == p {
		return
	}
	if other := h.waiting; other != nil {
		h.waiting = nil
		h.startMatch(other, p)
		return
	}
	h.waiting = p
	p.queuedAt = h.clock.Now()
	if err := p.Conn.EnqueueMessage(protocol.Waiting{}); err != nil {
		h.log.Errorw("encode waiting", "err", err)
	}
}

func (h *Hub) startMatch(a, b *Player) {
	m := &Match{
		ID:       uuid.New().String(),
		Seats:    [2]*Player{a, b},
		Deadline: h.clock.Now().Add(h.matchDuration),
	}
	h.matches[m.ID] = m
	for i, p := range m.Seats {
		p.match = m
		p.seat = i + 1
		text := fmt.Sprintf("Match found! You are Player %d.", p.seat)
		if err := p.Conn.EnqueueMessage(protocol.StartGame{Text: text}); err != nil {
			h.log.Errorw("encode start-game", "err", err)
		}
	}
	h.metrics.IncMatchesStarted()
	h.log.Infow("match started", "match", m.ID, "player1", a.ID, "player2", b.ID,
		"queued", h.clock.Since(a.queuedAt), "deadline", m.Deadline)
}

// relaySpin 记录峰值并原样转发给对手
func (h *Hub) relaySpin(p *Player, m protocol.SpinUpdate) {
	if p.match == nil {
		h.metrics.IncDropped()
		return
	}
	if m.Field == protocol.SpinRPM {
		i := p.seat - 1
		p.match.Peak[i] = math.Max(p.match.Peak[i], math.Abs(m.Value))
	}
	opp := p.match.opponent(p)
	if err := opp.Conn.EnqueueMessage(m); err != nil {
		h.metrics.IncDropped()
		h.log.Debugw("relay encode", "err", err)
		return
	}
	h.metrics.IncRelayed()
}

// endMatch 结算并通知仍在线的座位；forfeitWinner > 0 时直接判该座位胜
func (h *Hub) endMatch(m *Match, forfeitWinner int) {
	over := protocol.GameOver{
		Winner:     winnerLabel(m.Peak, forfeitWinner),
		Player1RPM: m.Peak[0],
		Player2RPM: m.Peak[1],
	}
	for _, p := range m.Seats {
		if h.players[p.ID] != p {
			continue
		}
		p.match = nil
		p.seat = 0
		if err := p.Conn.EnqueueMessage(over); err != nil {
			h.log.Errorw("encode game-over", "err", err)
		}
	}
	delete(h.matches, m.ID)
	h.metrics.IncMatchesFinished()
	h.log.Infow("match finished", "match", m.ID, "result", over.Winner,
		"player1RPM", over.Player1RPM, "player2RPM", over.Player2RPM)
}

func winnerLabel(peak [2]float64, forfeitWinner int) string {
	switch {
	case forfeitWinner == 1, forfeitWinner == 0 && peak[0] > peak[1]:
		return "Player 1 Wins!"
	case forfeitWinner == 2, forfeitWinner == 0 && peak[1] > peak[0]:
		return "Player 2 Wins!"
	default:
		return "It's a Draw!"
	}
}

// leave 移除玩家；对局中离开判对手胜
func (h *Hub) leave(id PlayerID) {
	p, ok := h.players[id]
	if !ok {
		return
	}
	delete(h.players, id)
	if h.waiting == p {
		h.waiting = nil
	}
	if m := p.match; m != nil {
		remaining := 1
		if m.Seats[0] == p {
			remaining = 2
		}
		p.match = nil
		h.endMatch(m, remaining)
	}
	p.Conn.Close()
	h.log.Debugw("player left", "player", id)
}

func (h *Hub) publishStats() {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	h.stats = Stats{
		Players:       len(h.players),
		Waiting:       h.waiting != nil,
		ActiveMatches: len(h.matches),
		Tick:          h.tickSeq,
	}
}
