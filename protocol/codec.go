package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrMalformed 帧无法解析，或缺少/类型错误的必填字段
	ErrMalformed = errors.New("malformed frame")
	// ErrUnknownEvent event 字段不在已知集合中
	ErrUnknownEvent = errors.New("unknown event")
	// ErrNonFinite 编码前检查：数值必须是有限值
	ErrNonFinite = errors.New("non-finite number")
)

// 线上结构（文本 JSON）
// 示例：{"event":"spin-update","rpm":42.5}
type spinWire struct {
	Event Event    `json:"event"`
	RPM   *float64 `json:"rpm,omitempty"`
	Angle *float64 `json:"angle,omitempty"`
}

type startWire struct {
	Event   Event  `json:"event"`
	Message string `json:"message,omitempty"`
}

type gameOverWire struct {
	Event      Event  `json:"event"`
	Result     string `json:"result"`
	Player1RPM string `json:"player1RPM"`
	Player2RPM string `json:"player2RPM"`
}

type bareWire struct {
	Event Event `json:"event"`
}

// Encode 将消息编码为文本帧
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case FindMatch, *FindMatch:
		return json.Marshal(bareWire{Event: EventFindMatch})
	case Waiting, *Waiting:
		return json.Marshal(bareWire{Event: EventWaiting})
	case StartGame:
		return json.Marshal(startWire{Event: EventStartGame, Message: v.Text})
	case *StartGame:
		return Encode(*v)
	case SpinUpdate:
		if !finite(v.Value) {
			return nil, fmt.Errorf("encode %s: %w", EventSpinUpdate, ErrNonFinite)
		}
		w := spinWire{Event: EventSpinUpdate}
		val := v.Value
		switch v.Field {
		case SpinRPM:
			w.RPM = &val
		case SpinAngle:
			w.Angle = &val
		default:
			return nil, fmt.Errorf("encode %s: unknown field %d", EventSpinUpdate, v.Field)
		}
		return json.Marshal(w)
	case *SpinUpdate:
		return Encode(*v)
	case GameOver:
		if !finite(v.Player1RPM) || !finite(v.Player2RPM) {
			return nil, fmt.Errorf("encode %s: %w", EventGameOver, ErrNonFinite)
		}
		return json.Marshal(gameOverWire{
			Event:      EventGameOver,
			Result:     v.Winner,
			Player1RPM: strconv.FormatFloat(v.Player1RPM, 'f', -1, 64),
			Player2RPM: strconv.FormatFloat(v.Player2RPM, 'f', -1, 64),
		})
	case *GameOver:
		return Encode(*v)
	case nil:
		return nil, errors.New("encode: nil message")
	default:
		return nil, fmt.Errorf("encode: unsupported message %T", m)
	}
}

// Decode 将入站文本帧解码为消息。返回的错误均包装 ErrMalformed 或 ErrUnknownEvent，
// 调用方应直接丢弃该帧
func Decode(b []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	raw, ok := fields["event"]
	if !ok {
		return nil, fmt.Errorf("%w: missing event", ErrMalformed)
	}
	var ev string
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: event is not a string", ErrMalformed)
	}

	switch Event(ev) {
	case EventFindMatch:
		return FindMatch{}, nil
	case EventWaiting:
		return Waiting{}, nil
	case EventStartGame:
		var sg StartGame
		if m, ok := fields["message"]; ok && !isNull(m) {
			if err := json.Unmarshal(m, &sg.Text); err != nil {
				return nil, fmt.Errorf("%w: start-game message is not a string", ErrMalformed)
			}
		}
		return sg, nil
	case EventSpinUpdate:
		// rpm 优先；只有缺少 rpm 时才读取 angle
		if r, ok := fields["rpm"]; ok {
			v, err := number(r)
			if err != nil {
				return nil, fmt.Errorf("%w: spin-update rpm: %v", ErrMalformed, err)
			}
			return RPMUpdate(v), nil
		}
		if a, ok := fields["angle"]; ok {
			v, err := number(a)
			if err != nil {
				return nil, fmt.Errorf("%w: spin-update angle: %v", ErrMalformed, err)
			}
			return AngleUpdate(v), nil
		}
		return nil, fmt.Errorf("%w: spin-update without rpm or angle", ErrMalformed)
	case EventGameOver:
		var g GameOver
		r, ok := fields["result"]
		if !ok {
			return nil, fmt.Errorf("%w: game-over without result", ErrMalformed)
		}
		if err := json.Unmarshal(r, &g.Winner); err != nil {
			return nil, fmt.Errorf("%w: game-over result is not a string", ErrMalformed)
		}
		var err error
		if g.Player1RPM, err = numericField(fields, "player1RPM"); err != nil {
			return nil, err
		}
		if g.Player2RPM, err = numericField(fields, "player2RPM"); err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev)
	}
}

// numericField 读取数字文本字段（兼容直接给出 JSON 数字的服务端）
func numericField(fields map[string]json.RawMessage, key string) (float64, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("%w: game-over without %s", ErrMalformed, key)
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		v, perr := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if perr != nil || !finite(v) {
			return 0, fmt.Errorf("%w: %s %q is not numeric", ErrMalformed, key, text)
		}
		return v, nil
	}
	v, err := number(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return v, nil
}

func number(raw json.RawMessage) (float64, error) {
	if isNull(raw) {
		return 0, errors.New("null")
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
