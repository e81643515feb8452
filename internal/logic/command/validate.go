// Package command implements the text command protocol: validation of
// incoming lines, parsing into actions and the control loop that applies
// them to the rig.
//
// Protocol:
//
//	S<int>          set speed
//	G, E, L         query speed, end-switches, lamps
//	D<axis><sign>   button pressed: move axis continuously
//	U<axis><sign>   button released: stop axis
//	D0              all off
//	DL1, DL2        toggle lamp
//	Dcenter         go to center
//	Dgetnet         query network configuration
//	Dchnet <params> change network configuration
//	Dreboot         reboot the host
package command

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/cjeanneret/SpectGo/internal/logic/motion"
)

// Messages sent back to the session that issued a command.
const (
	MsgEmpty           = "Empty command!"
	MsgChangeSpeed     = "Change speed"
	MsgUndefined       = "Undefined command"
	MsgBroken          = "Broken command!"
	MsgTurnOff         = "Turn off everything"
	MsgGoCenter        = "Go to the middle. Please, wait!"
	MsgUndefinedCoord  = "Undefined coordinate"
	MsgUndefinedDir    = "Undefined direction"
	MsgUndefinedLamp   = "Undefined lamp"
	MsgUndefinedAction = "Undefined action required"
)

// Verdict is the result of validating one command line.
// Accepted commands go to the mailbox; Ack, if set, is sent to the requester.
// A rejected verdict with an empty Reason is dropped silently.
type Verdict struct {
	Accepted bool
	Ack      string
	Reason   string
}

func accept(ack string) Verdict { return Verdict{Accepted: true, Ack: ack} }
func reject(reason string) Verdict { return Verdict{Reason: reason} }

// Validate checks a command line against the protocol and the configured axes.
func Validate(text string, axes []string) Verdict {
	if text == "" {
		return reject(MsgEmpty)
	}
	switch text[0] {
	case 'S':
		return accept(MsgChangeSpeed)
	case 'G', 'E', 'L':
		if len(text) != 1 {
			return reject(MsgBroken)
		}
		return accept("")
	case 'D', 'U':
	default:
		return reject(MsgUndefined)
	}

	if text[0] == 'D' {
		switch {
		case text == "Dgetnet", text == "Dreboot":
			return accept("")
		case text == "Dchnet" || strings.HasPrefix(text, "Dchnet "):
			return accept("")
		case text == "Dcenter":
			return accept(MsgGoCenter)
		}
	}

	if len(text) == 1 {
		return reject(MsgBroken)
	}
	switch c := text[1]; {
	case c == '0':
		if len(text) != 2 {
			return reject(MsgBroken)
		}
		if text[0] == 'U' {
			return Verdict{} // releasing "all off" means nothing
		}
		return accept(MsgTurnOff)
	case c == 'L':
		if text[0] != 'D' {
			return reject(MsgUndefinedAction)
		}
		if len(text) != 3 {
			return reject(MsgBroken)
		}
		if text[2] != '1' && text[2] != '2' {
			return reject(MsgUndefinedLamp)
		}
		return accept("")
	case hasAxis(axes, text[1:2]):
		if len(text) != 3 {
			return reject(MsgBroken)
		}
		if _, ok := motion.DirectionFromSign(text[2]); !ok {
			return reject(MsgUndefinedDir)
		}
		return accept("")
	case c >= 'A' && c <= 'Z':
		return reject(MsgUndefinedCoord)
	default:
		return reject(MsgUndefinedAction)
	}
}

func hasAxis(axes []string, name string) bool {
	for _, a := range axes {
		if a == name {
			return true
		}
	}
	return false
}

// Kind identifies a parsed action.
type Kind int

const (
	SetSpeed Kind = iota
	QuerySpeed
	QuerySwitches
	QueryLamps
	Move
	Stop
	AllOff
	ToggleLamp
	Center
	GetNet
	ChangeNet
	Reboot
)

// Action is a validated command ready to be applied.
type Action struct {
	Kind   Kind
	Axis   string
	Dir    motion.Direction
	Lamp   int
	Speed  int    // SetSpeed: 0 when the argument is not a number
	Params string // ChangeNet
}

// ErrRejected matches every *RejectedError.
var ErrRejected = errors.New("command rejected")

// RejectedError carries the client-facing reason of a rejected command.
// Reason is empty for lines that are dropped silently.
type RejectedError struct {
	Text   string
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return "command " + strconv.Quote(e.Text) + " ignored"
	}
	return "command " + strconv.Quote(e.Text) + " rejected: " + e.Reason
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// Parse validates text and turns it into an Action.
func Parse(text string, axes []string) (Action, error) {
	v := Validate(text, axes)
	if !v.Accepted {
		return Action{}, &RejectedError{Text: text, Reason: v.Reason}
	}

	switch text[0] {
	case 'S':
		n, _ := strconv.Atoi(strings.TrimSpace(text[1:]))
		return Action{Kind: SetSpeed, Speed: n}, nil
	case 'G':
		return Action{Kind: QuerySpeed}, nil
	case 'E':
		return Action{Kind: QuerySwitches}, nil
	case 'L':
		return Action{Kind: QueryLamps}, nil
	}

	switch {
	case text == "Dgetnet":
		return Action{Kind: GetNet}, nil
	case text == "Dreboot":
		return Action{Kind: Reboot}, nil
	case text == "Dcenter":
		return Action{Kind: Center}, nil
	case strings.HasPrefix(text, "Dchnet"):
		return Action{Kind: ChangeNet, Params: strings.TrimSpace(text[len("Dchnet"):])}, nil
	case text == "D0":
		return Action{Kind: AllOff}, nil
	case text[1] == 'L':
		return Action{Kind: ToggleLamp, Lamp: int(text[2] - '0')}, nil
	}

	dir, _ := motion.DirectionFromSign(text[2])
	if text[0] == 'U' {
		return Action{Kind: Stop, Axis: text[1:2], Dir: dir}, nil
	}
	return Action{Kind: Move, Axis: text[1:2], Dir: dir}, nil
}
