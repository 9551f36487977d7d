// Package protocol defines the messages exchanged between the completion
// session and display surfaces, and the persisted conversation turn.
package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Name identifies a lifecycle message variant on the forward channel.
type Name string

const (
	NameSmoke      Name = "smoke"
	NameStart      Name = "start"
	NameInProgress Name = "inprogress"
	NameEnd        Name = "end"
)

// FinishReason describes why a generation ended.
type FinishReason string

const (
	// FinishStop is a natural completion reported by the model.
	FinishStop FinishReason = "stop"
	// FinishLength is a truncation at the token limit; the turn may be continued.
	FinishLength FinishReason = "length"
	// FinishCancelled marks a generation stopped by the user.
	FinishCancelled FinishReason = "cancelled"
	// FinishError marks a generation terminated by a transport failure.
	FinishError FinishReason = "error"
)

// Continuable reports whether a turn ending with r may be continued.
func (r FinishReason) Continuable() bool {
	return r == FinishLength
}

var (
	// ErrInvalidMessage indicates a lifecycle message missing required fields.
	ErrInvalidMessage = errors.New("invalid lifecycle message")
	// ErrInvalidControl indicates a control command that is neither stop nor continue.
	ErrInvalidControl = errors.New("invalid control command")
)

// Message is one lifecycle message sent from the completion session to display surfaces.
type Message struct {
	Name            Name         `json:"name" jsonschema:"enum=smoke,enum=start,enum=inprogress,enum=end"`
	ID              string       `json:"id,omitempty"`
	SelectionText   string       `json:"selectionText,omitempty"`
	ContextMenuName string       `json:"contextMenuName,omitempty"`
	Data            string       `json:"data,omitempty"`
	FinishReason    FinishReason `json:"finishReason,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// Smoke returns the liveness check message.
func Smoke() Message {
	return Message{Name: NameSmoke}
}

// Start announces a new turn.
func Start(id, kind, selection string) Message {
	return Message{Name: NameStart, ID: id, ContextMenuName: kind, SelectionText: selection}
}

// InProgress carries one delta of generated text.
func InProgress(id, delta, selection string) Message {
	return Message{Name: NameInProgress, ID: id, Data: delta, SelectionText: selection}
}

// End terminates a turn. errText is empty unless the generation failed.
func End(id, selection string, reason FinishReason, errText string) Message {
	return Message{Name: NameEnd, ID: id, SelectionText: selection, FinishReason: reason, Error: errText}
}

// Validate checks required fields for the message variant.
func (m Message) Validate() error {
	switch m.Name {
	case NameSmoke:
		return nil
	case NameStart, NameInProgress:
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("%w: %s requires id", ErrInvalidMessage, m.Name)
		}
		return nil
	case NameEnd:
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("%w: end requires id", ErrInvalidMessage)
		}
		if m.FinishReason == "" {
			return fmt.Errorf("%w: end requires finishReason", ErrInvalidMessage)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown name %q", ErrInvalidMessage, m.Name)
	}
}

// Control is a command sent from a display surface back to the completion session.
type Control struct {
	Stop     bool  `json:"stop,omitempty"`
	Continue bool  `json:"continue,omitempty"`
	Chat     *Turn `json:"chat,omitempty"`
}

// StopCommand aborts the current generation.
func StopCommand() Control {
	return Control{Stop: true}
}

// ContinueCommand resumes a length-truncated turn.
func ContinueCommand(turn Turn) Control {
	cloned := turn.Clone()
	return Control{Continue: true, Chat: &cloned}
}

// Validate checks that exactly one command is set.
func (c Control) Validate() error {
	switch {
	case c.Stop && c.Continue:
		return fmt.Errorf("%w: stop and continue are exclusive", ErrInvalidControl)
	case c.Stop:
		return nil
	case c.Continue:
		if c.Chat == nil || strings.TrimSpace(c.Chat.ID) == "" {
			return fmt.Errorf("%w: continue requires chat", ErrInvalidControl)
		}
		return nil
	default:
		return fmt.Errorf("%w: empty command", ErrInvalidControl)
	}
}

// ControlState is derived from the turn lifecycle and drives the stop/continue affordances.
type ControlState struct {
	CanStop     bool `json:"canStop"`
	CanContinue bool `json:"canContinue"`
}

// Turn is one exchange triggered by one trigger activation.
type Turn struct {
	ID           string       `json:"id"`
	Kind         string       `json:"kind"`
	SourceText   string       `json:"sourceText"`
	Segments     []string     `json:"segments"`
	Control      ControlState `json:"controlState"`
	FinishReason FinishReason `json:"finishReason,omitempty"`
	Error        string       `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Text joins the turn segments verbatim.
func (t Turn) Text() string {
	return strings.Join(t.Segments, "")
}

// Clone returns a copy that shares no slices with t.
func (t Turn) Clone() Turn {
	cloned := t
	cloned.Segments = append([]string(nil), t.Segments...)
	return cloned
}

// CloneTurns deep-copies a turn list.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, 0, len(turns))
	for _, turn := range turns {
		out = append(out, turn.Clone())
	}
	return out
}
