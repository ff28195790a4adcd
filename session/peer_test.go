package session

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"fidgetfighter/physics"
	"fidgetfighter/protocol"
)

// scriptedPeer 充当匹配服务端：记录收到的帧，由测试决定下发什么
type scriptedPeer struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	frames   chan []byte
	closes   chan int
	accepted atomic.Int32
}

func newScriptedPeer(t *testing.T) *scriptedPeer {
	t.Helper()
	p := &scriptedPeer{
		conns:  make(chan *websocket.Conn, 4),
		frames: make(chan []byte, 64),
		closes: make(chan int, 4),
	}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.accepted.Add(1)
		p.conns <- ws
		go func() {
			for {
				_, b, err := ws.ReadMessage()
				if err != nil {
					var ce *websocket.CloseError
					if errors.As(err, &ce) {
						p.closes <- ce.Code
					} else {
						p.closes <- -1
					}
					return
				}
				p.frames <- b
			}
		}()
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *scriptedPeer) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func (p *scriptedPeer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-p.conns:
		t.Cleanup(func() { _ = ws.Close() })
		return ws
	case <-time.After(2 * time.Second):
		t.Fatalf("no connection accepted")
	}
	return nil
}

func (p *scriptedPeer) nextFrame(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case b := <-p.frames:
		m, err := protocol.Decode(b)
		if err != nil {
			t.Fatalf("peer got undecodable frame %s: %v", b, err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("peer timed out waiting for frame")
	}
	return nil
}

func write(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("peer write: %v", err)
	}
}

// startSession 构造并运行会话；返回的 fake clock 驱动两个模拟器
func startSession(t *testing.T, url string) (*Session, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	s := runSession(t, Options{URL: url, Clock: clock, WriteTimeout: time.Second, SignPolicy: physics.Signed})
	return s, clock
}

// runSession 以给定参数构造会话并在后台运行事件循环，测试结束时停止
func runSession(t *testing.T, opts Options) *Session {
	t.Helper()
	s := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

var errLinkDown = errors.New("link down")

// flakyConn 在 broken 置位后让所有写失败，读方向不受影响
type flakyConn struct {
	net.Conn
	broken *atomic.Bool
}

func (c flakyConn) Write(b []byte) (int, error) {
	if c.broken.Load() {
		return 0, errLinkDown
	}
	return c.Conn.Write(b)
}

// flakyDialer 建立的底层连接可由 broken 随时切断写方向
func flakyDialer(broken *atomic.Bool) *websocket.Dialer {
	return &websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var d net.Dialer
			c, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return flakyConn{Conn: c, broken: broken}, nil
		},
	}
}

func waitFor(t *testing.T, s *Session, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := s.Snapshot(); cond(snap) {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last snapshot %+v", what, s.Snapshot())
	return Snapshot{}
}

func inState(st State) func(Snapshot) bool {
	return func(s Snapshot) bool { return s.State == st }
}

// advanceUntil 以 Tick 为步长推进 fake clock，直到条件满足
func advanceUntil(t *testing.T, s *Session, clock *clockwork.FakeClock, what string, cond func(Snapshot) bool) time.Duration {
	t.Helper()
	var elapsed time.Duration
	for i := 0; i < 5000; i++ {
		if cond(s.Snapshot()) {
			return elapsed
		}
		clock.Advance(physics.TickPeriod)
		elapsed += physics.TickPeriod
		time.Sleep(200 * time.Microsecond)
	}
	t.Fatalf("condition %q never held; last snapshot %+v", what, s.Snapshot())
	return elapsed
}

// intoGame 连接并让会话进入 InGame，返回服务端侧连接
func intoGame(t *testing.T, s *Session, p *scriptedPeer) *websocket.Conn {
	t.Helper()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ws := p.conn(t)
	if m := p.nextFrame(t); m.Event() != protocol.EventFindMatch {
		t.Fatalf("first frame = %s, want find-match", m.Event())
	}
	write(t, ws, `{"event":"waiting"}`)
	write(t, ws, `{"event":"start-game","message":"Match found!"}`)
	waitFor(t, s, "InGame", inState(InGame))
	return ws
}
