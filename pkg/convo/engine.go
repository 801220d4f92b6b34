// Package convo drives multi-turn conversations as a tree of finite state
// machines. Each top-level command owns a flow; child flows return to a
// parent state through a delegation table, and one dispatch loop keyed by
// (user, flow, state) runs them all.
package convo

import (
	"context"
	"fmt"
	"sync"

	"github.com/vmkteam/embedlog"

	"tally/pkg/tally"
)

type FlowID string

type State string

const (
	StateSelectAction State = "select_action"
	StateAwaitValue   State = "await_value"
	StateQuickInput   State = "quick_input"
	StateAwaitClear   State = "await_clear"
	StateAwaitCode    State = "await_code"
	StateAwaitSpec    State = "await_spec"

	// StateEnd hands control back to the parent flow; StateStopping exits
	// the whole tree.
	StateEnd      State = "end"
	StateStopping State = "stopping"
)

type InputKind int

const (
	InputText InputKind = iota
	InputAction
	InputCommand
)

// Input is one inbound user event, already stripped of transport details.
type Input struct {
	Kind    InputKind
	Command string // command name without the slash
	Action  string // button token
	Text    string
}

// Action is one selectable button offered with a reply.
type Action struct {
	Label string
	Token string
}

// Reply is an outbound message: text plus an optional keyboard. Edit asks
// the transport to edit the previous prompt in place instead of sending a
// new message.
type Reply struct {
	Text    string
	Actions [][]Action
	Edit    bool
}

// Result of one transition: replies to emit, the state to move to ("" stays
// put) and optionally a child flow to push.
type Result struct {
	Next    State
	Push    FlowID
	Replies []Reply
}

// Handler implements one state's transition function.
type Handler func(ctx context.Context, s *Session, in Input) (Result, error)

// Flow is one named state machine. Entry produces the initial prompt and
// state when the flow is entered or re-entered.
type Flow struct {
	ID     FlowID
	Entry  Handler
	States map[State]Handler
}

// Position is one node of the conversation tree.
type Position struct {
	Flow  FlowID
	State State
}

// Session is the per-user conversation state: the position stack plus
// scratch values handlers pass between states. It lives in memory only.
type Session struct {
	UserID     int
	TelegramID int64
	User       *tally.User

	// Field remembers which draft field an await-value state is filling.
	Field string
	// StartOver tells a re-entered flow to edit its previous prompt
	// instead of sending a new one.
	StartOver bool

	stack []Position
}

// Position returns the current node, or false when the session is at rest.
func (s *Session) Position() (Position, bool) {
	if len(s.stack) == 0 {
		return Position{}, false
	}
	return s.stack[len(s.stack)-1], true
}

// Engine dispatches inputs to flow handlers and maintains per-user
// positions.
type Engine struct {
	mgr *tally.Manager
	log embedlog.Logger

	flows      map[FlowID]*Flow
	roots      map[string]FlowID          // command -> flow
	delegation map[FlowID]Position        // child flow -> parent return position
	fallback   func(s *Session) []Reply   // prompt when no flow is active

	mu       sync.RWMutex
	sessions map[int64]*Session
}

func NewEngine(mgr *tally.Manager, log embedlog.Logger) *Engine {
	e := &Engine{
		mgr:        mgr,
		log:        log,
		flows:      map[FlowID]*Flow{},
		roots:      map[string]FlowID{},
		delegation: map[FlowID]Position{},
		sessions:   map[int64]*Session{},
	}
	e.registerFlows()

	return e
}

func (e *Engine) register(f *Flow) {
	e.flows[f.ID] = f
}

// registerRoot binds a command to a flow's entry.
func (e *Engine) registerRoot(command string, id FlowID) {
	e.roots[command] = id
}

// delegate declares where control returns when the child flow ends.
func (e *Engine) delegate(child, parent FlowID, ret State) {
	e.delegation[child] = Position{Flow: parent, State: ret}
}

// Session returns the conversation session for a Telegram user, creating it
// on first use.
func (e *Engine) Session(telegramID int64) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[telegramID]
	if !ok {
		s = &Session{TelegramID: telegramID}
		e.sessions[telegramID] = s
	}

	return s
}

// Dispatch routes one input through the state tree and returns the replies
// to send. The caller resolves the user before calling.
func (e *Engine) Dispatch(ctx context.Context, s *Session, in Input) []Reply {
	// cancel exits the whole tree from anywhere, dropping only the draft
	if in.Kind == InputCommand && in.Command == "cancel" {
		return e.stop(ctx, s)
	}

	// root commands enter (or restart) their flow from anywhere
	if in.Kind == InputCommand {
		if id, ok := e.roots[in.Command]; ok {
			s.stack = []Position{{Flow: id, State: StateSelectAction}}
			return e.enter(ctx, s, id, in)
		}
	}

	pos, active := s.Position()
	if !active {
		if e.fallback != nil {
			return e.fallback(s)
		}
		return nil
	}

	flow, ok := e.flows[pos.Flow]
	if !ok {
		return e.recover(ctx, s, fmt.Errorf("unknown flow %q", pos.Flow))
	}
	handler, ok := flow.States[pos.State]
	if !ok {
		return e.recover(ctx, s, fmt.Errorf("flow %q has no state %q", pos.Flow, pos.State))
	}

	res, err := handler(ctx, s, in)
	if err != nil {
		e.log.Error(ctx, "conversation handler failed",
			"user_id", s.UserID, "flow", pos.Flow, "state", pos.State, "err", err)
		return []Reply{{Text: "Something went wrong on my side, please try again."}}
	}

	return e.apply(ctx, s, res)
}

// apply advances the position stack according to a handler result.
func (e *Engine) apply(ctx context.Context, s *Session, res Result) []Reply {
	replies := res.Replies

	switch {
	case res.Push != "":
		if res.Next != "" && res.Next != StateEnd && res.Next != StateStopping {
			s.setState(res.Next)
		}
		s.stack = append(s.stack, Position{Flow: res.Push, State: StateSelectAction})
		return append(replies, e.enter(ctx, s, res.Push, Input{})...)

	case res.Next == StateStopping:
		return append(replies, e.stop(ctx, s)...)

	case res.Next == StateEnd:
		child := s.stack[len(s.stack)-1].Flow
		s.stack = s.stack[:len(s.stack)-1]

		ret, ok := e.delegation[child]
		if !ok || len(s.stack) == 0 {
			// no parent: conversation is over
			s.stack = nil
			s.StartOver = false
			return replies
		}

		s.stack[len(s.stack)-1] = ret
		if s.StartOver {
			return append(replies, e.enter(ctx, s, ret.Flow, Input{})...)
		}
		return replies

	case res.Next != "":
		s.setState(res.Next)
	}

	return replies
}

// enter runs a flow's entry handler and applies its result.
func (e *Engine) enter(ctx context.Context, s *Session, id FlowID, in Input) []Reply {
	flow, ok := e.flows[id]
	if !ok {
		return e.recover(ctx, s, fmt.Errorf("unknown flow %q", id))
	}

	res, err := flow.Entry(ctx, s, in)
	if err != nil {
		e.log.Error(ctx, "flow entry failed", "user_id", s.UserID, "flow", id, "err", err)
		s.stack = nil
		return []Reply{{Text: "Something went wrong on my side, please try again."}}
	}
	s.StartOver = false

	if res.Next != "" && res.Next != StateEnd && res.Next != StateStopping {
		s.setState(res.Next)
	}

	return res.Replies
}

// stop exits the whole tree: the draft is dropped, pending records are kept.
func (e *Engine) stop(ctx context.Context, s *Session) []Reply {
	e.mgr.ClearDraft(s.UserID)
	s.stack = nil
	s.Field = ""
	s.StartOver = false

	return []Reply{{Text: "Cancelled. Your pending records are kept; use /record to continue or /help for commands. 👋"}}
}

// recover handles invariant violations: the position is reset so the session
// stays usable, and the broken state is logged with full context.
func (e *Engine) recover(ctx context.Context, s *Session, err error) []Reply {
	e.log.Error(ctx, "conversation state corrupted",
		"user_id", s.UserID, "telegram_id", s.TelegramID, "stack", fmt.Sprintf("%+v", s.stack), "err", err)

	s.stack = nil
	s.Field = ""
	s.StartOver = false

	return []Reply{{Text: "I lost track of this conversation, let's start over. Use /record or /settings."}}
}

func (s *Session) setState(st State) {
	s.stack[len(s.stack)-1].State = st
}
