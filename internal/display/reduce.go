package display

import (
	"time"

	"ghostwriter/internal/logger"
	"ghostwriter/internal/protocol"
)

// Reduce applies one lifecycle message to turns. It returns the updated list
// and the index of the mutated turn, or -1 when msg changed nothing.
// Messages are routed strictly by turn id; unknown ids are dropped.
func Reduce(turns []protocol.Turn, msg protocol.Message, now time.Time) ([]protocol.Turn, int) {
	switch msg.Name {
	case protocol.NameStart:
		if indexOf(turns, msg.ID) >= 0 {
			logger.Warn("duplicate start dropped", "turn", msg.ID)
			return turns, -1
		}
		turns = append(turns, protocol.Turn{
			ID:         msg.ID,
			Kind:       msg.ContextMenuName,
			SourceText: msg.SelectionText,
			Segments:   []string{},
			Control:    protocol.ControlState{CanStop: true},
			CreatedAt:  now.UTC(),
		})
		return turns, len(turns) - 1

	case protocol.NameInProgress:
		i := indexOf(turns, msg.ID)
		if i < 0 {
			logger.Debug("inprogress for unknown turn dropped", "turn", msg.ID)
			return turns, -1
		}
		turn := &turns[i]
		turn.Segments = append(turn.Segments, msg.Data)
		turn.Control = protocol.ControlState{CanStop: true}
		turn.FinishReason = ""
		turn.Error = ""
		return turns, i

	case protocol.NameEnd:
		i := indexOf(turns, msg.ID)
		if i < 0 {
			logger.Debug("end for unknown turn dropped", "turn", msg.ID)
			return turns, -1
		}
		turn := &turns[i]
		turn.FinishReason = msg.FinishReason
		turn.Error = msg.Error
		turn.Control = protocol.ControlState{
			CanStop:     false,
			CanContinue: msg.FinishReason.Continuable(),
		}
		return turns, i
	}
	return turns, -1
}

func indexOf(turns []protocol.Turn, id string) int {
	if id == "" {
		return -1
	}
	for i := range turns {
		if turns[i].ID == id {
			return i
		}
	}
	return -1
}
