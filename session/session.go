package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"fidgetfighter/config"
	"fidgetfighter/physics"
	"fidgetfighter/protocol"
)

var (
	// ErrNotConnected 当前没有打开的 socket
	ErrNotConnected = errors.New("not connected")
	// ErrInputLocked 不在对局中（或对局已结束），本地手势被禁用
	ErrInputLocked = errors.New("input locked")
	// ErrClosed 会话事件循环已退出
	ErrClosed = errors.New("session closed")
	// ErrConnectAborted 建连过程中会话被断开
	ErrConnectAborted = errors.New("connect aborted")
	// ErrServerEvent 该事件只由服务端发出
	ErrServerEvent = errors.New("server-only event")
)

// Options 会话参数
type Options struct {
	URL          string
	WriteTimeout time.Duration
	SignPolicy   physics.SignPolicy
	Seat         int // 默认座位（1 或 2）

	Clock  clockwork.Clock
	Dialer *websocket.Dialer
	Logger *zap.SugaredLogger
}

// OptionsFromConfig 由客户端配置构造参数
func OptionsFromConfig(c config.ClientConfig) (Options, error) {
	policy, err := physics.ParseSignPolicy(c.SignPolicy)
	if err != nil {
		return Options{}, err
	}
	return Options{
		URL:          c.URL,
		WriteTimeout: c.WriteTimeout,
		SignPolicy:   policy,
		Seat:         c.Seat,
	}, nil
}

// Session 单个客户端会话：显式构造、显式传递，生命周期等于 Run 的运行期。
// 状态机迁移、消息分发、动量 Tick 全部在 Run 的单一协程中串行执行
type Session struct {
	id      string
	opts    Options
	clock   clockwork.Clock
	dialer  *websocket.Dialer
	log     *zap.SugaredLogger
	metrics *Metrics

	cmds    chan func()
	inbound chan inbound
	stopped chan struct{}
	running atomic.Bool

	// 以下字段仅由事件循环读写
	machine   Machine
	conn      *Conn
	gen       uint64
	self      *physics.Simulator
	opp       *physics.Simulator
	gesture   *physics.Gesture
	result    *GameResult
	record    Record
	serverMsg string
	lastErr   string
	peakSent  float64

	mu   sync.RWMutex
	snap Snapshot

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int

	hmu      sync.RWMutex
	handlers map[protocol.Event][]Handler
}

// New 创建会话（尚未运行，需调用 Run）
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Seat != 2 {
		opts.Seat = 1
	}
	dialer := opts.Dialer
	if dialer == nil {
		// 不设握手超时：建连只受调用方 ctx 约束
		dialer = &websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	}
	id := uuid.New().String()
	lg := opts.Logger
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	s := &Session{
		id:       id,
		opts:     opts,
		clock:    opts.Clock,
		dialer:   dialer,
		log:      lg.With("session", id),
		metrics:  &Metrics{},
		cmds:     make(chan func()),
		inbound:  make(chan inbound),
		stopped:  make(chan struct{}),
		self:     physics.NewSimulator(opts.Clock),
		opp:      physics.NewSimulator(opts.Clock),
		gesture:  physics.NewGesture(opts.SignPolicy),
		subs:     make(map[int]chan Snapshot),
		handlers: make(map[protocol.Event][]Handler),
	}
	s.refresh(false)
	return s
}

// ID 会话标识（日志关联用）
func (s *Session) ID() string { return s.id }

// Metrics 运行期计数
func (s *Session) Metrics() *Metrics { return s.metrics }

// Run 事件循环，阻塞直到 ctx 取消。退出时关闭 socket、停止两个模拟器。
// 所有公开操作都投递到这里执行，调用它们之前须先启动 Run
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}
	defer close(s.stopped)
	s.log.Infow("session loop started", "url", s.opts.URL)

	for {
		select {
		case <-ctx.Done():
			s.teardown(true)
			s.log.Info("session loop stopped")
			return nil
		case fn := <-s.cmds:
			fn()
		case in := <-s.inbound:
			s.handleInbound(in)
		case <-s.self.C():
			s.tick(s.self)
		case <-s.opp.C():
			s.tick(s.opp)
		}
	}
}

// do 将 fn 投递到事件循环执行并等待完成
func (s *Session) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case s.cmds <- func() { defer close(done); fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrClosed
	}
	<-done
	return nil
}

// Connect 打开唯一的 socket 并发送 find-match。已连接（或正在连接）时为空操作。
// 失败只报告一次，不自动重试。
// 需要 Run 已在运行：循环未启动时 Connect 阻塞到 ctx 结束，循环退出后返回 ErrClosed
func (s *Session) Connect(ctx context.Context) error {
	var gen uint64
	begun := false
	err := s.do(ctx, func() {
		if s.machine.State() != Disconnected {
			return
		}
		if s.transition(Connecting) != nil {
			return
		}
		s.lastErr = ""
		s.gen++
		gen = s.gen
		begun = true
		s.refresh(true)
	})
	if err != nil || !begun {
		return err
	}

	ws, _, dialErr := s.dialer.DialContext(ctx, s.opts.URL, nil)

	attached := false
	err = s.do(context.Background(), func() {
		if s.gen != gen || s.machine.State() != Connecting {
			return
		}
		if dialErr != nil {
			s.metrics.IncConnectFailures()
			s.lastErr = dialErr.Error()
			s.teardown(false)
			return
		}
		s.attach(ws, gen)
		attached = true
	})
	if dialErr != nil {
		s.log.Warnw("connect failed", "url", s.opts.URL, "err", dialErr)
		return fmt.Errorf("connect %s: %w", s.opts.URL, dialErr)
	}
	if err != nil {
		_ = ws.Close()
		return err
	}
	if !attached {
		_ = ws.Close()
		return ErrConnectAborted
	}
	return nil
}

// attach 在事件循环中接管新 socket：进入 Waiting、启动读循环、发送 find-match
func (s *Session) attach(ws *websocket.Conn, gen uint64) {
	s.conn = newConn(ws, s.opts.WriteTimeout)
	_ = s.transition(Waiting)
	go s.conn.readPump(gen, s.inbound, s.stopped)
	s.log.Infow("connected", "url", s.opts.URL)
	if err := s.send(protocol.FindMatch{}); err != nil {
		s.log.Warnw("find-match not sent", "err", err)
	}
	s.refresh(true)
}

// Disconnect 以正常关闭码关闭 socket 并清空会话状态
func (s *Session) Disconnect(ctx context.Context) error {
	return s.do(ctx, func() {
		if s.machine.State() == Disconnected {
			return
		}
		s.log.Info("disconnect requested")
		s.teardown(true)
	})
}

// Dismiss 在 GameOver 后确认结果并复位会话
func (s *Session) Dismiss(ctx context.Context) error {
	var err error
	if derr := s.do(ctx, func() {
		if st := s.machine.State(); st != GameOver {
			err = fmt.Errorf("%w: dismiss in %s", ErrIllegalTransition, st)
			return
		}
		s.teardown(true)
	}); derr != nil {
		return derr
	}
	return err
}

// Send 编码并发送一条消息。只接受客户端事件（find-match、spin-update），
// 其余返回 ErrServerEvent。发送失败返回错误但不拆除会话
func (s *Session) Send(ctx context.Context, m protocol.Message) error {
	if !protocol.ClientSent(m.Event()) {
		return fmt.Errorf("%w: %s", ErrServerEvent, m.Event())
	}
	var err error
	if derr := s.do(ctx, func() {
		if m.Event() == protocol.EventSpinUpdate && s.machine.State() != InGame {
			err = ErrInputLocked
			return
		}
		err = s.send(m)
	}); derr != nil {
		return derr
	}
	return err
}

// Drag 处理一次拖动采样，更新本地 RPM 读数（不启动动量）
func (s *Session) Drag(ctx context.Context, sample physics.GestureSample) (float64, error) {
	var (
		rpm float64
		err error
	)
	if derr := s.do(ctx, func() {
		if s.machine.State() != InGame {
			err = ErrInputLocked
			return
		}
		rpm = s.gesture.Sample(sample)
		s.self.SetRPM(rpm)
		s.refresh(false)
	}); derr != nil {
		return 0, derr
	}
	return rpm, err
}

// Release 结束拖动：启动本地动量并把 RPM 发给对手。
// 发送失败时动量照常运行，错误返回给调用方
func (s *Session) Release(ctx context.Context) (float64, error) {
	var (
		rpm float64
		err error
	)
	if derr := s.do(ctx, func() {
		if s.machine.State() != InGame {
			s.gesture.Reset()
			err = ErrInputLocked
			return
		}
		rpm = s.gesture.Release()
		s.self.Start(rpm)
		err = s.send(protocol.RPMUpdate(rpm))
		s.refresh(true)
	}); derr != nil {
		return 0, derr
	}
	return rpm, err
}

// send 在事件循环中编码并写出
func (s *Session) send(m protocol.Message) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if err := s.conn.Send(b); err != nil {
		s.metrics.IncSendFailures()
		s.log.Warnw("send failed", "event", m.Event(), "err", err)
		return fmt.Errorf("send %s: %w", m.Event(), err)
	}
	s.metrics.IncSent()
	if su, ok := m.(protocol.SpinUpdate); ok && su.Field == protocol.SpinRPM {
		s.peakSent = math.Max(s.peakSent, math.Abs(su.Value))
	}
	s.log.Debugw("sent", "event", m.Event())
	return nil
}

func (s *Session) handleInbound(in inbound) {
	if in.gen != s.gen || s.conn == nil {
		return
	}
	if in.err != nil {
		s.metrics.IncTransportLost()
		s.log.Warnw("connection lost", "err", in.err)
		s.lastErr = in.err.Error()
		s.teardown(false)
		return
	}
	s.metrics.IncReceived()
	if in.typ != websocket.TextMessage {
		s.metrics.IncDropped()
		s.log.Debugw("unsupported frame type dropped", "type", in.typ)
		return
	}
	msg, err := protocol.Decode(in.data)
	if err != nil {
		s.metrics.IncDropped()
		s.log.Debugw("frame dropped", "err", err)
		return
	}
	s.dispatch(msg)
}

// dispatch 将已解码消息应用到状态机与模拟器；与当前状态不符的消息被忽略
func (s *Session) dispatch(msg protocol.Message) {
	st := s.machine.State()
	applied := true
	switch m := msg.(type) {
	case protocol.Waiting:
		applied = st == Waiting
	case protocol.StartGame:
		if st != Waiting || s.transition(InGame) != nil {
			applied = false
			break
		}
		s.serverMsg = m.Text
		s.peakSent = 0
		s.log.Infow("match started", "message", m.Text)
	case protocol.SpinUpdate:
		if st != InGame {
			applied = false
			break
		}
		switch m.Field {
		case protocol.SpinRPM:
			s.opp.Start(m.Value)
		case protocol.SpinAngle:
			s.opp.SetAngle(m.Value)
		}
	case protocol.GameOver:
		if st != InGame {
			applied = false
			break
		}
		s.finish(m)
	default:
		applied = false
	}
	if !applied {
		s.log.Debugw("message ignored", "event", msg.Event(), "state", st)
		return
	}
	s.runHandlers(msg)
	s.refresh(true)
}

// finish 进入 GameOver：记录结果，按结算 RPM 强制重启两个角色的动量，锁定本地输入
func (s *Session) finish(m protocol.GameOver) {
	if s.transition(GameOver) != nil {
		return
	}
	seat := s.resolveSeat(m)
	res := &GameResult{
		Winner:     m.Winner,
		Player1RPM: m.Player1RPM,
		Player2RPM: m.Player2RPM,
		Seat:       seat,
		Outcome:    outcomeFor(m.Winner, seat),
	}
	s.result = res
	s.record.add(res.Outcome)
	s.gesture.Reset()
	s.self.Start(res.SelfRPM())
	s.opp.Start(res.OpponentRPM())
	s.log.Infow("game over", "winner", m.Winner, "seat", seat, "outcome", res.Outcome,
		"player1RPM", m.Player1RPM, "player2RPM", m.Player2RPM)
}

// resolveSeat 用本局发送过的峰值 |rpm| 匹配结果中的座位；无法唯一确定时用默认座位
func (s *Session) resolveSeat(m protocol.GameOver) int {
	if s.peakSent > 0 {
		p1 := approxEqual(math.Abs(m.Player1RPM), s.peakSent)
		p2 := approxEqual(math.Abs(m.Player2RPM), s.peakSent)
		if p1 && !p2 {
			return 1
		}
		if p2 && !p1 {
			return 2
		}
	}
	return s.opts.Seat
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-6*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func (s *Session) tick(sim *physics.Simulator) {
	s.metrics.IncTick()
	if sim.Step() {
		s.refresh(false)
		return
	}
	// 本次运行衰减到静止
	s.refresh(true)
}

// teardown 停止模拟器、清空结果、关闭 socket 并回到 Disconnected。
// graceful 为 true 时发送正常关闭帧
func (s *Session) teardown(graceful bool) {
	s.self.Reset()
	s.opp.Reset()
	s.gesture.Reset()
	s.result = nil
	s.peakSent = 0
	s.serverMsg = ""
	if s.conn != nil {
		code := 0
		if graceful {
			code = websocket.CloseNormalClosure
		}
		s.conn.Close(code)
		s.conn = nil
	}
	// 使仍在途中的读结果与建连失效
	s.gen++
	if s.machine.State() != Disconnected {
		_ = s.transition(Disconnected)
	}
	s.refresh(true)
}

func (s *Session) transition(next State) error {
	from := s.machine.State()
	if err := s.machine.To(next); err != nil {
		s.log.Errorw("transition rejected", "err", err)
		return err
	}
	if from != next {
		s.log.Debugw("transition", "from", from, "to", next)
	}
	return nil
}
