package server

import (
	"fmt"
	"strconv"
	"strings"
)

// Chat commands understood by ground control
const (
	Prefix     = "--gc"
	Help       = "--gc-help"
	Wings      = "--gc-wings"
	CallOff    = "--gc-call-off"
	VersionCmd = "--gc-version"
)

// Version is reported by --gc-version. Overridden at build time with
// -ldflags "-X github.com/AirmashQ/airmash-ground-control/server.Version=..."
var Version = "0.1.0"

// BadCommandKind says why a command was refused
type BadCommandKind int

const (
	Unknown BadCommandKind = iota
	NoWings
	TooMany
	AlreadyAssigned
)

func (k BadCommandKind) String() string {
	switch k {
	case NoWings:
		return "no_wings"
	case TooMany:
		return "too_many"
	case AlreadyAssigned:
		return "already_assigned"
	default:
		return "unknown"
	}
}

// BadCommand is a refused command. Its Error text is sent back to chat.
type BadCommand struct {
	Kind    BadCommandKind
	Message string // raw text, for Unknown
	User    string
	Count   uint8 // wings already assigned, for AlreadyAssigned
	Max     uint8 // limit, for TooMany
}

func (e *BadCommand) Error() string {
	switch e.Kind {
	case NoWings:
		return fmt.Sprintf("no wings assigned to %s", e.User)
	case TooMany:
		return fmt.Sprintf("too many wings attacking %s (max %d wings)", e.User, e.Max)
	case AlreadyAssigned:
		return fmt.Sprintf("%s already has %d wings; use %s to remove", e.User, e.Count, CallOff)
	default:
		return fmt.Sprintf("unknown command: '%s'", e.Message)
	}
}

// ActionKind is the fleet change a command asks for
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionSetWings
	ActionClearWings
)

// Action is applied to the fleet registry by the caller
type Action struct {
	Kind  ActionKind
	Wings uint8
}

// Response holds the chat lines to send, in order, and the fleet action
type Response struct {
	Lines  []string
	Action Action
}

func helpLines() []string {
	return []string{
		fmt.Sprintf("%s: %s", Wings, "request X attacking wingmen"),
		fmt.Sprintf("%s: %s", CallOff, "remove any requested wingmen"),
		fmt.Sprintf("%s: %s", VersionCmd, "program version"),
	}
}

// Interpret turns a chat message from user into a response. count is the
// number of wingmen user already has and maxWings the per player limit.
//
// A nil response and nil error mean the message was not meant for ground
// control. Refused commands come back as a *BadCommand.
func Interpret(message, user string, count, maxWings uint8) (*Response, error) {
	if !strings.HasPrefix(message, Prefix) {
		return nil, nil
	}

	switch {
	case message == Help:
		return &Response{Lines: helpLines()}, nil

	case message == VersionCmd:
		return &Response{Lines: []string{"AIRMASH Ground Control, version " + Version}}, nil

	case strings.HasPrefix(message, Wings):
		if count > 0 {
			return nil, &BadCommand{Kind: AlreadyAssigned, User: user, Count: count}
		}
		n, ok := wingsArgument(message)
		switch {
		case !ok:
			return nil, &BadCommand{Kind: Unknown, Message: message, User: user}
		case n > maxWings:
			return nil, &BadCommand{Kind: TooMany, User: user, Max: maxWings}
		case n == 0:
			return nil, &BadCommand{Kind: Unknown, Message: message, User: user}
		}
		return &Response{
			Lines:  []string{fmt.Sprintf("OK %s, %d wings are coming!", user, n)},
			Action: Action{Kind: ActionSetWings, Wings: n},
		}, nil

	case message == CallOff:
		if count == 0 {
			return nil, &BadCommand{Kind: NoWings, User: user}
		}
		return &Response{
			Lines:  []string{fmt.Sprintf("Calling off all wings from %s", user)},
			Action: Action{Kind: ActionClearWings},
		}, nil
	}

	return nil, &BadCommand{Kind: Unknown, Message: message, User: user}
}

// wingsArgument reads the second word of a wings command as a count
func wingsArgument(message string) (uint8, bool) {
	words := strings.Fields(message)
	if len(words) < 2 {
		return 0, false
	}
	n, err := strconv.ParseUint(words[1], 10, 8)
	if err != nil {
		return 0, false
	}
	return uint8(n), true
}
