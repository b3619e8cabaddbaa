// Package conversation implements the operator dialog that edits the rule
// set over the chat channel. Each chat identity has its own session driven
// by an explicit (state, input) transition table.
package conversation

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatch/internal/market"
	"pricewatch/internal/metrics"
	"pricewatch/internal/rules"
)

// State is the position of a session in the dialog.
type State int

const (
	Idle State = iota
	AddSymbol
	AddMarketKind
	AddWindow
	AddThreshold
	AddContinue
	RemoveSelect
	ConfirmClear
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AddSymbol:
		return "add_symbol"
	case AddMarketKind:
		return "add_market_kind"
	case AddWindow:
		return "add_window"
	case AddThreshold:
		return "add_threshold"
	case AddContinue:
		return "add_continue"
	case RemoveSelect:
		return "remove_select"
	case ConfirmClear:
		return "confirm_clear"
	default:
		return "unknown"
	}
}

// Session holds the dialog position and the fields collected so far.
type Session struct {
	State         State
	Symbol        string
	Kind          market.Kind
	WindowMinutes int
	// Listed is the rule list shown by RemoveSelect; indices resolve against it.
	Listed []rules.Key
}

// Reply is the outbound response for one inbound message.
type Reply struct {
	Text     string
	Keyboard [][]string
}

// Registry is the subset of the rule registry the dialog mutates.
type Registry interface {
	Add(symbol string, kind market.Kind, windowMinutes int, threshold decimal.Decimal) (rules.AddResult, error)
	Remove(symbol string, kind market.Kind, windowMinutes int) bool
	Clear() int
	SetEnabled(enabled bool)
	Enabled() bool
	List() []rules.Rule
}

// Options configure the engine.
type Options struct {
	AuthorizedChatID int64
	MaxRules         int
}

// Engine routes inbound messages through per-chat sessions.
type Engine struct {
	opts     Options
	registry Registry
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[int64]Session
}

// NewEngine constructs the dialog engine.
func NewEngine(opts Options, registry Registry, logger zerolog.Logger) *Engine {
	return &Engine{
		opts:     opts,
		registry: registry,
		logger:   logger.With().Str("component", "conversation").Logger(),
		sessions: make(map[int64]Session),
	}
}

const unauthorizedText = "⛔ Unauthorized. This bot only serves its configured operator."

// Handle processes one inbound message and returns the response to send.
func (e *Engine) Handle(chatID int64, text string) Reply {
	if chatID != e.opts.AuthorizedChatID {
		metrics.ChatMessagesTotal.WithLabelValues("false").Inc()
		e.logger.Warn().Int64("chat_id", chatID).Msg("rejected message from unauthorized chat")
		return Reply{Text: unauthorizedText}
	}
	metrics.ChatMessagesTotal.WithLabelValues("true").Inc()

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.sessions[chatID]
	input := Classify(text)
	step := lookup(current.State, input)
	next, reply := step(e, current, text)
	e.sessions[chatID] = next

	e.logger.Debug().Int64("chat_id", chatID).
		Str("input", input.String()).
		Str("from", current.State.String()).
		Str("to", next.State.String()).
		Msg("dialog transition")
	return reply
}

// Session returns a copy of the session for chatID.
func (e *Engine) Session(chatID int64) Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[chatID]
}
