package relay

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fidgetfighter/protocol"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// ClientConn 负责发送（写）数据到客户端的轻量包装。
// Enqueue 与 Close 只在 Hub 协程中调用
type ClientConn struct {
	ws      *websocket.Conn
	send    chan []byte
	closed  bool
	metrics *Metrics
}

func NewClientConn(ws *websocket.Conn, metrics *Metrics) *ClientConn {
	return &ClientConn{
		ws:      ws,
		send:    make(chan []byte, 64),
		metrics: metrics,
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (c *ClientConn) Enqueue(b []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		// 为了实时性，丢弃（防止阻塞 Hub）
		if c.metrics != nil {
			c.metrics.IncChanFullDropped()
		}
	}
}

// EnqueueMessage 编码后入队
func (c *ClientConn) EnqueueMessage(m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.Enqueue(b)
	return nil
}

// Close 关闭发送队列；写协程发出关闭帧后关闭底层连接
func (c *ClientConn) Close() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端帧，解码后注入 Hub
func (c *ClientConn) readPump(h *Hub, playerID PlayerID) {
	defer c.ws.Close()
	// 读泵退出时，通知 Hub 在自己的协程中移除该玩家
	defer h.RequestLeave(playerID)
	c.ws.SetReadLimit(1 << 16)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debugw("unexpected close", "player", playerID, "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if typ != websocket.TextMessage {
			h.metrics.IncDropped()
			continue
		}
		msg, err := protocol.Decode(payload)
		if err != nil {
			h.metrics.IncDropped()
			h.log.Debugw("frame dropped", "player", playerID, "err", err)
			continue
		}
		if !h.OnInput(Input{PlayerID: playerID, Msg: msg}) {
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 本地开发中继：允许所有来源
		return true
	},
}

// HandleWS WebSocket 接入。客户端端点不带路径，因此挂在任意路径上
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("upgrade error", "err", err)
		return
	}

	playerID := PlayerID(uuid.New().String())
	client := NewClientConn(ws, h.metrics)
	if !h.Join(&Player{ID: playerID, Conn: client}) {
		_ = ws.Close()
		return
	}
	h.metrics.IncConnections()

	go client.writePump()
	go client.readPump(h, playerID)
}
