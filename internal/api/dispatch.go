package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/session"
)

// Inbound frame types.
const (
	FrameHostGame        = "hostGame"
	FrameJoinGame        = "joinGame"
	FrameRejoinGame      = "rejoinGame"
	FrameStartGame       = "startGame"
	FrameNextQuestion    = "nextQuestion"
	FrameSubmitQuestion  = "submitQuestion"
	FrameApproveQuestion = "approveQuestion"
	FrameAnswer          = "answer"
)

type (
	inboundFrame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	joinRequest struct {
		Name string   `json:"name"`
		Code gameCode `json:"code"`
	}

	submitQuestionRequest struct {
		session.QuestionInput
		Code gameCode `json:"code"`
	}

	approveQuestionRequest struct {
		QuestionText string   `json:"questionText"`
		Code         gameCode `json:"code"`
	}

	answerRequest struct {
		Answer string   `json:"answer"`
		Code   gameCode `json:"code"`
	}
)

// gameCode accepts a code sent either as a JSON string or a JSON number.
type gameCode string

func (c *gameCode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = gameCode(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = gameCode(n.String())
	return nil
}

// decodeCode reads the data of startGame and nextQuestion: a bare code or {"code": ...}.
func decodeCode(data json.RawMessage) (string, error) {
	var c gameCode
	if err := json.Unmarshal(data, &c); err == nil {
		return string(c), nil
	}

	var req struct {
		Code gameCode `json:"code"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return "", err
	}
	return string(req.Code), nil
}

// Dispatcher routes inbound frames to the session registry. Failures of a command are
// reported to its sender with an error frame.
type Dispatcher struct {
	reg *session.Registry
	out session.Broadcaster
}

func NewDispatcher(reg *session.Registry, out session.Broadcaster) *Dispatcher {
	return &Dispatcher{reg: reg, out: out}
}

// Handle is a FrameHandler.
func (d *Dispatcher) Handle(ctx context.Context, connID string, frame []byte) {
	var in inboundFrame
	if err := json.Unmarshal(frame, &in); err != nil {
		d.fail(ctx, connID, "", errors.InvalidArgument("malformed frame: %v", err))
		return
	}

	if err := d.dispatch(ctx, connID, in); err != nil {
		d.fail(ctx, connID, in.Type, err)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, connID string, in inboundFrame) error {
	switch in.Type {
	case FrameHostGame:
		_, err := d.reg.Create(ctx, connID)
		return err

	case FrameJoinGame, FrameRejoinGame:
		var req joinRequest
		if err := decode(in.Data, &req); err != nil {
			return err
		}
		if in.Type == FrameJoinGame {
			return d.reg.Join(ctx, string(req.Code), connID, req.Name)
		}
		return d.reg.Rejoin(ctx, string(req.Code), connID, req.Name)

	case FrameStartGame, FrameNextQuestion:
		code, err := decodeCode(in.Data)
		if err != nil {
			return errors.InvalidArgument("malformed %s data: %v", in.Type, err)
		}
		if in.Type == FrameStartGame {
			return d.reg.Start(ctx, code, connID)
		}
		return d.reg.Next(ctx, code)

	case FrameSubmitQuestion:
		var req submitQuestionRequest
		if err := decode(in.Data, &req); err != nil {
			return err
		}
		return d.reg.SubmitQuestion(ctx, string(req.Code), connID, req.QuestionInput)

	case FrameApproveQuestion:
		var req approveQuestionRequest
		if err := decode(in.Data, &req); err != nil {
			return err
		}
		return d.reg.ApproveQuestion(ctx, string(req.Code), req.QuestionText)

	case FrameAnswer:
		var req answerRequest
		if err := decode(in.Data, &req); err != nil {
			return err
		}
		return d.reg.SubmitAnswer(ctx, string(req.Code), connID, req.Answer)

	default:
		return errors.InvalidArgument("unknown frame type %q", in.Type)
	}
}

func decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.InvalidArgument("malformed data: %v", err)
	}
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, connID, typ string, err error) {
	e := errors.Convert(err)

	msg := e.Message
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(ctx, "api: command failed", "type", typ, "conn", connID, "error", err)
		msg = "internal error"
	} else {
		slog.DebugContext(ctx, "api: command rejected", "type", typ, "conn", connID, "error", err)
	}

	d.out.SendToOne(connID, session.Message{
		Type: session.MessageError,
		Data: session.ErrorMessage{Code: e.Code.String(), Message: msg},
	})
}
