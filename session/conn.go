package session

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// inbound 读协程交给事件循环的一帧或一次读失败
type inbound struct {
	gen  uint64
	typ  int
	data []byte
	err  error
}

// Conn 会话持有的唯一 socket。写操作串行化，读由 readPump 单独负责
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex // 同一时刻只允许一个写者
	closed    chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{
		ws:           ws,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// Send 写出一个文本帧；出站帧按调用顺序发送
func (c *Conn) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// Close 发送关闭帧（尽力而为）并关闭底层连接，可重复调用
func (c *Conn) Close(code int) {
	c.closeOnce.Do(func() {
		close(c.closed)
		if code != 0 {
			msg := websocket.FormatCloseMessage(code, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		_ = c.ws.Close()
	})
}

// readPump 单个读循环：同一时刻只有一个未完成的读；
// 每帧阻塞交付给事件循环，处理完上一帧之前不会丢弃或越过下一帧
func (c *Conn) readPump(gen uint64, out chan<- inbound, stop <-chan struct{}) {
	for {
		typ, data, err := c.ws.ReadMessage()
		in := inbound{gen: gen, typ: typ, data: data, err: err}
		select {
		case out <- in:
		case <-c.closed:
			return
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}
