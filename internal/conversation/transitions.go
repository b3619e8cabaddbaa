package conversation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"pricewatch/internal/market"
	"pricewatch/internal/rules"
)

type transition func(e *Engine, s Session, text string) (Session, Reply)

type edge struct {
	state State
	input Input
}

// anyState marks edges that apply in every state unless overridden.
const anyState State = -1

var table = map[edge]transition{
	{anyState, InputCancel}: cancel,

	{Idle, InputHelp}:    showHelp,
	{Idle, InputAdd}:     startAdd,
	{Idle, InputRemove}:  startRemove,
	{Idle, InputEnable}:  enable,
	{Idle, InputDisable}: disable,
	{Idle, InputStatus}:  showStatus,
	{Idle, InputText}:    unknownCommand,

	{AddSymbol, InputText}:     collectSymbol,
	{AddMarketKind, InputText}: collectKind,
	{AddWindow, InputText}:     collectWindow,
	{AddThreshold, InputText}:  collectThreshold,

	{AddContinue, InputYes}:  addAnother,
	{AddContinue, InputNo}:   finishAdd,
	{AddContinue, InputText}: askContinue,

	{RemoveSelect, InputClearAll}: askClear,
	{RemoveSelect, InputText}:     selectRemoval,

	{ConfirmClear, InputYes}:  clearAll,
	{ConfirmClear, InputNo}:   keepAll,
	{ConfirmClear, InputText}: askClearAgain,
}

// lookup resolves (state, input) to a transition: exact edge first, then the
// any-state edge, then the state's free-text edge.
func lookup(state State, input Input) transition {
	if t, ok := table[edge{state, input}]; ok {
		return t
	}
	if t, ok := table[edge{anyState, input}]; ok {
		return t
	}
	if t, ok := table[edge{state, InputText}]; ok {
		return t
	}
	return unknownCommand
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{5,12}$`)

func idle() Session { return Session{State: Idle} }

const helpText = `📚 Price watch bot

1. Add rule - add a monitoring rule
2. Remove rule - delete existing rules
3. Start monitoring - resume price checks
4. Stop monitoring - pause price checks
5. Status - show the current rules
6. Help - show this message

Example, watch BTCUSDT spot:
1. Tap "1. Add rule"
2. Send BTCUSDT
3. Choose "Spot"
4. Send the window in minutes, e.g. 5
5. Send the threshold in percent, e.g. 0.5

Send "0. Cancel" at any step to abort.`

func cancel(e *Engine, s Session, text string) (Session, Reply) {
	return idle(), Reply{Text: "Operation cancelled.", Keyboard: mainMenu}
}

func showHelp(e *Engine, s Session, text string) (Session, Reply) {
	return idle(), Reply{Text: helpText, Keyboard: mainMenu}
}

func unknownCommand(e *Engine, s Session, text string) (Session, Reply) {
	return idle(), Reply{Text: "Unknown command. Send /help to see what I can do.", Keyboard: mainMenu}
}

func startAdd(e *Engine, s Session, text string) (Session, Reply) {
	return Session{State: AddSymbol}, Reply{Text: "Send the symbol to monitor (e.g. BTCUSDT):", Keyboard: cancelMenu}
}

func enable(e *Engine, s Session, text string) (Session, Reply) {
	e.registry.SetEnabled(true)
	return idle(), Reply{Text: "✅ Monitoring started", Keyboard: mainMenu}
}

func disable(e *Engine, s Session, text string) (Session, Reply) {
	e.registry.SetEnabled(false)
	return idle(), Reply{Text: "⛔ Monitoring stopped", Keyboard: mainMenu}
}

func showStatus(e *Engine, s Session, text string) (Session, Reply) {
	list := e.registry.List()
	var b strings.Builder
	if len(list) == 0 {
		b.WriteString("No monitoring rules configured.\n")
	} else {
		b.WriteString("📋 Monitoring rules:\n\n")
		writeRules(&b, list)
	}
	if e.registry.Enabled() {
		b.WriteString("\nMonitoring: 🟢 running")
	} else {
		b.WriteString("\nMonitoring: 🔴 stopped")
	}
	return idle(), Reply{Text: b.String(), Keyboard: mainMenu}
}

func startRemove(e *Engine, s Session, text string) (Session, Reply) {
	list := e.registry.List()
	if len(list) == 0 {
		return idle(), Reply{Text: "No monitoring rules configured.", Keyboard: mainMenu}
	}

	listed := make([]rules.Key, len(list))
	for i, r := range list {
		listed[i] = r.Key()
	}

	var b strings.Builder
	b.WriteString("Select the rule to remove:\n\n")
	writeRules(&b, list)
	b.WriteString(fmt.Sprintf("\nSend a number, or \"%s\" to remove every rule.", ClearAll))
	return Session{State: RemoveSelect, Listed: listed}, Reply{Text: b.String(), Keyboard: removeMenu}
}

func collectSymbol(e *Engine, s Session, text string) (Session, Reply) {
	symbol := strings.ToUpper(strings.TrimSpace(text))
	if !validSymbol(symbol) {
		return s, Reply{
			Text:     "❌ Invalid symbol. Send 5-12 letters or digits without a market suffix, e.g. BTCUSDT.",
			Keyboard: cancelMenu,
		}
	}
	return Session{State: AddMarketKind, Symbol: symbol}, Reply{Text: "Choose the market kind:", Keyboard: kindMenu}
}

func validSymbol(symbol string) bool {
	if !symbolPattern.MatchString(symbol) {
		return false
	}
	return !strings.Contains(symbol, market.PerpetualMarker) && !strings.HasSuffix(symbol, "PERP")
}

func collectKind(e *Engine, s Session, text string) (Session, Reply) {
	var kind market.Kind
	switch strings.ToLower(strings.TrimSpace(text)) {
	case strings.ToLower(SpotToken):
		kind = market.Spot
	case strings.ToLower(PerpToken):
		kind = market.Perpetual
	default:
		return s, Reply{Text: fmt.Sprintf("❌ Invalid market kind, choose \"%s\" or \"%s\".", SpotToken, PerpToken), Keyboard: kindMenu}
	}

	s.State = AddWindow
	s.Kind = kind
	return s, Reply{Text: "Send the window in minutes (e.g. 5, 15, 60):", Keyboard: cancelMenu}
}

func collectWindow(e *Engine, s Session, text string) (Session, Reply) {
	window, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || window <= 0 {
		return s, Reply{Text: "❌ Invalid window. Send a positive whole number of minutes.", Keyboard: cancelMenu}
	}
	if window > rules.MaxWindowMinutes {
		return s, Reply{
			Text:     fmt.Sprintf("❌ Window too long. The maximum is %d minutes (one year).", rules.MaxWindowMinutes),
			Keyboard: cancelMenu,
		}
	}

	s.State = AddThreshold
	s.WindowMinutes = window
	return s, Reply{Text: "Send the threshold in percent (e.g. 0.5, 1.0, 2.0):", Keyboard: cancelMenu}
}

func collectThreshold(e *Engine, s Session, text string) (Session, Reply) {
	raw := strings.TrimSuffix(strings.TrimSpace(text), "%")
	threshold, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !threshold.IsPositive() {
		return s, Reply{Text: "❌ Invalid threshold. Send a positive number, e.g. 0.5.", Keyboard: cancelMenu}
	}

	rule := rules.Rule{Symbol: s.Symbol, Kind: s.Kind, WindowMinutes: s.WindowMinutes, ThresholdPct: threshold}
	result, err := e.registry.Add(s.Symbol, s.Kind, s.WindowMinutes, threshold)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", s.Symbol).Msg("rule rejected")
		return idle(), Reply{Text: "❌ Could not add the rule: " + err.Error(), Keyboard: mainMenu}
	}

	var msg string
	switch result {
	case rules.Added:
		msg = "✅ Rule added: " + rule.String()
	case rules.AlreadyExists:
		msg = fmt.Sprintf("⚠️ %s already has a %dmin rule.", market.Display(s.Symbol, s.Kind), s.WindowMinutes)
	case rules.CapacityExceeded:
		msg = "❌ Rule limit reached"
		if e.opts.MaxRules > 0 {
			msg += fmt.Sprintf(" (%d)", e.opts.MaxRules)
		}
		msg += ". Remove a rule first."
	}

	s.State = AddContinue
	return s, Reply{Text: msg + "\n\nAdd another rule?", Keyboard: yesNoMenu}
}

func addAnother(e *Engine, s Session, text string) (Session, Reply) {
	return startAdd(e, s, text)
}

func finishAdd(e *Engine, s Session, text string) (Session, Reply) {
	if e.registry.Enabled() {
		return idle(), Reply{Text: "Done.", Keyboard: mainMenu}
	}
	return idle(), Reply{
		Text:     fmt.Sprintf("Done. Monitoring is stopped; tap \"%s\" to enable it.", MenuEnable),
		Keyboard: enableOffer,
	}
}

func askContinue(e *Engine, s Session, text string) (Session, Reply) {
	return s, Reply{Text: "Please answer Yes or No. Add another rule?", Keyboard: yesNoMenu}
}

func selectRemoval(e *Engine, s Session, text string) (Session, Reply) {
	idx, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || idx < 1 || idx > len(s.Listed) {
		return s, Reply{
			Text:     fmt.Sprintf("❌ Invalid number. Send a number between 1 and %d.", len(s.Listed)),
			Keyboard: removeMenu,
		}
	}

	key := s.Listed[idx-1]
	if !e.registry.Remove(key.Symbol, key.Kind, key.WindowMinutes) {
		return idle(), Reply{Text: "That rule no longer exists.", Keyboard: mainMenu}
	}
	return idle(), Reply{
		Text:     fmt.Sprintf("✅ Rule removed: %s - %dmin", market.Display(key.Symbol, key.Kind), key.WindowMinutes),
		Keyboard: mainMenu,
	}
}

func askClear(e *Engine, s Session, text string) (Session, Reply) {
	s.State = ConfirmClear
	return s, Reply{Text: fmt.Sprintf("Remove all %d rules?", len(s.Listed)), Keyboard: yesNoMenu}
}

func askClearAgain(e *Engine, s Session, text string) (Session, Reply) {
	return s, Reply{Text: "Please answer Yes or No. Remove all rules?", Keyboard: yesNoMenu}
}

func clearAll(e *Engine, s Session, text string) (Session, Reply) {
	n := e.registry.Clear()
	return idle(), Reply{Text: fmt.Sprintf("🗑 Removed %d rules.", n), Keyboard: mainMenu}
}

func keepAll(e *Engine, s Session, text string) (Session, Reply) {
	return idle(), Reply{Text: "Nothing removed.", Keyboard: mainMenu}
}

func writeRules(b *strings.Builder, list []rules.Rule) {
	for i, r := range list {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, r.String()))
	}
}
