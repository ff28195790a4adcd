package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"fidgetfighter/protocol"
)

type testClient struct {
	ws   *websocket.Conn
	msgs chan protocol.Message
}

func dialClient(t *testing.T, url string) *testClient {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c := &testClient{ws: ws, msgs: make(chan protocol.Message, 32)}
	go func() {
		defer close(c.msgs)
		for {
			_, b, err := ws.ReadMessage()
			if err != nil {
				return
			}
			m, err := protocol.Decode(b)
			if err != nil {
				continue
			}
			c.msgs <- m
		}
	}()
	t.Cleanup(func() { _ = ws.Close() })
	return c
}

func (c *testClient) send(t *testing.T, m protocol.Message) {
	t.Helper()
	b, err := protocol.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (c *testClient) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case m, ok := <-c.msgs:
		if !ok {
			t.Fatalf("connection closed while waiting for message")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return nil
}

func startHub(t *testing.T, clock clockwork.Clock) (*Hub, string) {
	t.Helper()
	h := NewHub(Options{MatchDuration: time.Second, TicksPerSecond: 20, Clock: clock})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// pair 让两个客户端完成匹配
func pair(t *testing.T, url string) (*testClient, *testClient) {
	t.Helper()
	c1 := dialClient(t, url)
	c1.send(t, protocol.FindMatch{})
	if m := c1.next(t); m.Event() != protocol.EventWaiting {
		t.Fatalf("first player got %s, want waiting", m.Event())
	}
	c2 := dialClient(t, url)
	c2.send(t, protocol.FindMatch{})
	for i, c := range []*testClient{c1, c2} {
		m := c.next(t)
		sg, ok := m.(protocol.StartGame)
		if !ok {
			t.Fatalf("player %d got %s, want start-game", i+1, m.Event())
		}
		if !strings.Contains(sg.Text, "Player") {
			t.Fatalf("start-game text = %q", sg.Text)
		}
	}
	return c1, c2
}

func TestHubPairsRelaysAndFinishes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h, url := startHub(t, clock)
	c1, c2 := pair(t, url)

	c1.send(t, protocol.RPMUpdate(12))
	if m := c2.next(t); m != protocol.Message(protocol.RPMUpdate(12)) {
		t.Fatalf("player 2 got %#v, want relayed rpm 12", m)
	}
	c2.send(t, protocol.RPMUpdate(-30))
	if m := c1.next(t); m != protocol.Message(protocol.RPMUpdate(-30)) {
		t.Fatalf("player 1 got %#v, want relayed rpm -30", m)
	}

	var over protocol.GameOver
	got := false
	for i := 0; i < 200 && !got; i++ {
		clock.Advance(50 * time.Millisecond)
		select {
		case m := <-c1.msgs:
			over, got = m.(protocol.GameOver)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if !got {
		t.Fatalf("no game-over after match deadline")
	}
	want := protocol.GameOver{Winner: "Player 2 Wins!", Player1RPM: 12, Player2RPM: 30}
	if over != want {
		t.Fatalf("game-over = %+v, want %+v", over, want)
	}
	if m := c2.next(t); m != protocol.Message(want) {
		t.Fatalf("player 2 game-over = %#v", m)
	}
	if s := h.Stats(); s.ActiveMatches != 0 {
		t.Fatalf("active matches = %d after finish", s.ActiveMatches)
	}
}

func TestHubForfeitOnLeave(t *testing.T) {
	_, url := startHub(t, clockwork.NewFakeClock())
	c1, c2 := pair(t, url)
	c2.send(t, protocol.RPMUpdate(4))
	_ = c1.next(t)

	_ = c1.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c1.ws.Close()

	m := c2.next(t)
	over, ok := m.(protocol.GameOver)
	if !ok {
		t.Fatalf("got %s, want game-over", m.Event())
	}
	if over.Winner != "Player 2 Wins!" || over.Player2RPM != 4 {
		t.Fatalf("forfeit result = %+v", over)
	}
}

func TestHubDropsMalformedFrames(t *testing.T) {
	h, url := startHub(t, clockwork.NewFakeClock())
	c := dialClient(t, url)
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(`{"rpm":1}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.send(t, protocol.FindMatch{})
	if m := c.next(t); m.Event() != protocol.EventWaiting {
		t.Fatalf("got %s, want waiting", m.Event())
	}
	if got := h.Metrics().Snapshot()["frames_dropped"]; got != int64(1) {
		t.Fatalf("frames_dropped = %v, want 1", got)
	}
}

func TestWinnerLabel(t *testing.T) {
	cases := []struct {
		peak    [2]float64
		forfeit int
		want    string
	}{
		{[2]float64{10, 3}, 0, "Player 1 Wins!"},
		{[2]float64{3, 10}, 0, "Player 2 Wins!"},
		{[2]float64{5, 5}, 0, "It's a Draw!"},
		{[2]float64{50, 1}, 2, "Player 2 Wins!"},
		{[2]float64{0, 0}, 1, "Player 1 Wins!"},
	}
	for _, tc := range cases {
		if got := winnerLabel(tc.peak, tc.forfeit); got != tc.want {
			t.Fatalf("winnerLabel(%v, %d) = %q, want %q", tc.peak, tc.forfeit, got, tc.want)
		}
	}
}
