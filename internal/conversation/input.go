package conversation

import "strings"

// Keyboard labels. Menu entries double as the command tokens accepted in Idle.
const (
	MenuAdd     = "1. Add rule"
	MenuRemove  = "2. Remove rule"
	MenuEnable  = "3. Start monitoring"
	MenuDisable = "4. Stop monitoring"
	MenuStatus  = "5. Status"
	MenuHelp    = "6. Help"
	CancelToken = "0. Cancel"
	ClearAll    = "Clear all"
	YesToken    = "Yes"
	NoToken     = "No"
	SpotToken   = "Spot"
	PerpToken   = "Perpetual"
)

// Input is the normalized category of an inbound text.
type Input int

const (
	InputText Input = iota
	InputCancel
	InputHelp
	InputAdd
	InputRemove
	InputEnable
	InputDisable
	InputStatus
	InputYes
	InputNo
	InputClearAll
)

func (i Input) String() string {
	switch i {
	case InputCancel:
		return "cancel"
	case InputHelp:
		return "help"
	case InputAdd:
		return "add"
	case InputRemove:
		return "remove"
	case InputEnable:
		return "enable"
	case InputDisable:
		return "disable"
	case InputStatus:
		return "status"
	case InputYes:
		return "yes"
	case InputNo:
		return "no"
	case InputClearAll:
		return "clear_all"
	default:
		return "text"
	}
}

var tokens = map[string]Input{
	strings.ToLower(CancelToken): InputCancel,
	"/cancel":                    InputCancel,
	"cancel":                     InputCancel,

	"/start":                  InputHelp,
	"/help":                   InputHelp,
	strings.ToLower(MenuHelp): InputHelp,

	strings.ToLower(MenuAdd):     InputAdd,
	"/add":                       InputAdd,
	strings.ToLower(MenuRemove):  InputRemove,
	"/remove":                    InputRemove,
	strings.ToLower(MenuEnable):  InputEnable,
	"/enable":                    InputEnable,
	strings.ToLower(MenuDisable): InputDisable,
	"/disable":                   InputDisable,
	strings.ToLower(MenuStatus):  InputStatus,
	"/status":                    InputStatus,

	"yes": InputYes,
	"y":   InputYes,
	"no":  InputNo,
	"n":   InputNo,

	strings.ToLower(ClearAll): InputClearAll,
	"/clear":                  InputClearAll,
}

// Classify maps raw text onto an input category. Anything unrecognized is
// InputText and is interpreted by the current state.
func Classify(text string) Input {
	if in, ok := tokens[strings.ToLower(strings.TrimSpace(text))]; ok {
		return in
	}
	return InputText
}

var (
	mainMenu = [][]string{
		{MenuAdd, MenuRemove},
		{MenuEnable, MenuDisable},
		{MenuStatus, MenuHelp},
	}
	cancelMenu  = [][]string{{CancelToken}}
	kindMenu    = [][]string{{SpotToken, PerpToken}, {CancelToken}}
	yesNoMenu   = [][]string{{YesToken, NoToken}}
	removeMenu  = [][]string{{ClearAll}, {CancelToken}}
	enableOffer = [][]string{{MenuEnable}, {MenuStatus, MenuHelp}}
)

// MainMenu returns the idle keyboard layout.
func MainMenu() [][]string {
	out := make([][]string, len(mainMenu))
	for i, row := range mainMenu {
		out[i] = append([]string(nil), row...)
	}
	return out
}
