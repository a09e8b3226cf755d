package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Engine.IO v4 包类型
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioNoop    = '6'
)

// Socket.IO v4 包类型（跟在 Engine.IO message 之后）
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioAck          = '3'
	sioConnectError = '4'
)

var (
	ErrServerDisconnect = errors.New("socket.io server disconnected")
	ErrConnectRefused   = errors.New("socket.io namespace connect refused")
	ErrMalformedPacket  = errors.New("malformed socket.io packet")
)

// Event 一条 Socket.IO 事件：名称与第一个参数的原始 JSON。
type Event struct {
	Name string
	Data json.RawMessage
}

type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// SocketIOConn 一条已完成握手的 Socket.IO 连接（默认 namespace，websocket 传输）。
// Next 只能由一个协程调用；Emit 可并发。
type SocketIOConn struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	deadline time.Duration
	sid      string
}

// SocketIOURL 将 http(s)/ws(s) 根地址转换为 Engine.IO websocket 端点。
func SocketIOURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse ws url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported ws scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DialSocketIO 建立 websocket、完成 Engine.IO open 与默认 namespace connect。
func DialSocketIO(ctx context.Context, base string, dialer *websocket.Dialer) (*SocketIOConn, error) {
	endpoint, err := SocketIOURL(base)
	if err != nil {
		return nil, err
	}
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	c := &SocketIOConn{ws: ws, deadline: 60 * time.Second}
	if err := c.handshake(ctx); err != nil {
		_ = ws.Close()
		return nil, err
	}
	return c, nil
}

func (c *SocketIOConn) handshake(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(dl)
	} else {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.deadline))
	}

	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("read engine.io open: %w", err)
	}
	if len(msg) == 0 || msg[0] != eioOpen {
		return fmt.Errorf("%w: expected open, got %q", ErrMalformedPacket, msg)
	}
	var hs handshake
	if err := json.Unmarshal(msg[1:], &hs); err != nil {
		return fmt.Errorf("%w: open payload: %v", ErrMalformedPacket, err)
	}
	if hs.PingInterval > 0 {
		// 服务端每 pingInterval 发一次 ping，超过 interval+timeout 没有任何数据即视为断线
		c.deadline = time.Duration(hs.PingInterval+hs.PingTimeout) * time.Millisecond
	}

	if err := c.write([]byte{eioMessage, sioConnect}); err != nil {
		return fmt.Errorf("send namespace connect: %w", err)
	}

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read namespace connect: %w", err)
		}
		if len(msg) == 1 && msg[0] == eioPing {
			if err := c.write([]byte{eioPong}); err != nil {
				return err
			}
			continue
		}
		if len(msg) < 2 || msg[0] != eioMessage {
			continue
		}
		switch msg[1] {
		case sioConnect:
			var ack struct {
				SID string `json:"sid"`
			}
			if len(msg) > 2 {
				_ = json.Unmarshal(msg[2:], &ack)
			}
			c.sid = ack.SID
			return nil
		case sioConnectError:
			return fmt.Errorf("%w: %s", ErrConnectRefused, msg[2:])
		}
	}
}

// SID namespace 连接 id。
func (c *SocketIOConn) SID() string { return c.sid }

// Emit 发送事件 42["name",payload]。
func (c *SocketIOConn) Emit(event string, payload interface{}) error {
	frame, err := EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// Next 阻塞读取下一条事件，内部处理心跳；连接断开或服务端 disconnect 时返回错误。
func (c *SocketIOConn) Next() (Event, error) {
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.deadline))
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return Event{}, err
		}
		if len(msg) == 0 {
			continue
		}
		switch msg[0] {
		case eioPing:
			if err := c.write([]byte{eioPong}); err != nil {
				return Event{}, err
			}
			continue
		case eioClose:
			return Event{}, ErrServerDisconnect
		case eioNoop, eioPong:
			continue
		case eioMessage:
		default:
			continue
		}
		if len(msg) < 2 {
			continue
		}
		switch msg[1] {
		case sioDisconnect:
			return Event{}, ErrServerDisconnect
		case sioEvent, sioAck:
			// 包体损坏时返回 ErrMalformedPacket，连接本身仍可继续读
			return DecodeEvent(msg[2:])
		}
	}
}

// Close 发送 disconnect 后关闭底层连接。
func (c *SocketIOConn) Close() error {
	_ = c.write([]byte{eioMessage, sioDisconnect})
	return c.ws.Close()
}

func (c *SocketIOConn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// EncodeEvent 编码为 Engine.IO message + Socket.IO event 帧。
func EncodeEvent(event string, payload interface{}) ([]byte, error) {
	args := []interface{}{event}
	if payload != nil {
		args = append(args, payload)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return append([]byte{eioMessage, sioEvent}, body...), nil
}

// DecodeEvent 解析 Socket.IO event 包体（已去掉 "42" 前缀），
// 允许可选的 "/namespace," 与 ack id 前缀。
func DecodeEvent(body []byte) (Event, error) {
	s := strings.TrimSpace(string(body))
	if strings.HasPrefix(s, "/") {
		i := strings.IndexByte(s, ',')
		if i < 0 {
			return Event{}, fmt.Errorf("%w: namespace without payload", ErrMalformedPacket)
		}
		s = s[i+1:]
	}
	s = strings.TrimLeft(s, "0123456789")

	var args []json.RawMessage
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	if len(args) == 0 {
		return Event{}, fmt.Errorf("%w: empty event", ErrMalformedPacket)
	}
	var ev Event
	if err := json.Unmarshal(args[0], &ev.Name); err != nil {
		return Event{}, fmt.Errorf("%w: event name: %v", ErrMalformedPacket, err)
	}
	if len(args) > 1 {
		ev.Data = args[1]
	}
	return ev, nil
}
