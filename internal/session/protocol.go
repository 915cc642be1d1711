package session

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	capture "github.com/eugener/capture/internal"
	"github.com/eugener/capture/internal/socket"
)

// Protocol ops. Each frame is one JSON object per line carrying an "op" field.
const (
	OpHello   = "hello"
	OpWelcome = "welcome"
	OpFrame   = "frame"
	OpAck     = "ack"
	OpPing    = "ping"
	OpPong    = "pong"
	OpBye     = "bye"
	OpError   = "error"

	opInvalid = "invalid" // metrics label for rejected frames
)

// reply is the server-to-client message.
type reply struct {
	Op      string `json:"op"`
	Session string `json:"session,omitempty"`
	Seq     *int64 `json:"seq,omitempty"`
	TS      int64  `json:"ts,omitempty"`
	Error   string `json:"error,omitempty"`
}

// dispatch handles one frame. It returns done=true with the close reason
// when the session must leave rotation.
func (h *Handler) dispatch(s *socket.Socket, e *entry, frame []byte) (capture.CloseReason, bool) {
	if !gjson.ValidBytes(frame) {
		return h.reject(s, e, "invalid json")
	}

	msg := gjson.ParseBytes(frame)
	op := msg.Get("op").String()

	switch op {
	case OpHello:
		s.SetName(msg.Get("name").String())
		h.countFrame(OpHello)
		return h.send(s, reply{Op: OpWelcome, Session: s.ID()})

	case OpFrame:
		h.countFrame(OpFrame)
		if msg.Get("ack").Bool() {
			seq := msg.Get("seq").Int()
			return h.send(s, reply{Op: OpAck, Seq: &seq})
		}
		return "", false

	case OpPing:
		h.countFrame(OpPing)
		return h.send(s, reply{Op: OpPong, TS: h.now().UnixMilli()})

	case OpBye:
		h.countFrame(OpBye)
		h.send(s, reply{Op: OpBye})
		return capture.ReasonClientBye, true

	default:
		return h.reject(s, e, "unknown op")
	}
}

// reject answers a bad frame and closes the session once the invalid budget is spent.
func (h *Handler) reject(s *socket.Socket, e *entry, msg string) (capture.CloseReason, bool) {
	h.countFrame(opInvalid)
	e.invalid++
	if e.invalid > int64(h.cfg.MaxInvalid) {
		h.send(s, reply{Op: OpError, Error: "too many invalid frames"})
		return capture.ReasonProtocolError, true
	}
	return h.send(s, reply{Op: OpError, Error: msg})
}

func (h *Handler) send(s *socket.Socket, r reply) (capture.CloseReason, bool) {
	b, err := json.Marshal(r)
	if err != nil {
		return capture.ReasonWriteError, true
	}
	if err := s.Send(b); err != nil {
		return capture.ReasonWriteError, true
	}
	return "", false
}

func (h *Handler) countFrame(op string) {
	if h.metrics != nil {
		h.metrics.FramesTotal.WithLabelValues(op).Inc()
	}
}
