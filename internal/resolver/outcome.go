package resolver

import (
	"fmt"

	"github.com/MimeLyc/iwbot/internal/identity"
)

type Kind int

const (
	NoAction Kind = iota
	Replace
	Problem
)

func (k Kind) String() string {
	switch k {
	case Replace:
		return "replace"
	case Problem:
		return "problem"
	default:
		return "no_action"
	}
}

// Outcome is the fate of one marker occurrence. Text is the replacement
// for Replace; Err describes a Problem. Requested is the existing source
// page the marker asked for, zero when there was none.
type Outcome struct {
	Kind      Kind
	Text      string
	Err       *Error
	Requested identity.Key
}

func noAction() Outcome {
	return Outcome{Kind: NoAction}
}

func replaceWith(text string) Outcome {
	return Outcome{Kind: Replace, Text: text}
}

func problem(t ErrorType, format string, args ...any) Outcome {
	return Outcome{Kind: Problem, Err: NewError(t, fmt.Sprintf(format, args...))}
}

// Message is the ledger text of a Problem, empty otherwise.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Message
}
