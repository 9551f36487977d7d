package completion

import (
	"context"

	"github.com/looplab/fsm"
)

// State is the lifecycle position of the session.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateStreaming  State = "streaming"
	StateStopped    State = "stopped"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

const (
	eventRequest  = "request"
	eventStream   = "stream"
	eventComplete = "complete"
	eventStop     = "stop"
	eventFail     = "fail"
	eventReset    = "reset"
)

func newMachine(onEnter func(from, to State)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventRequest, Src: []string{string(StateIdle)}, Dst: string(StateRequesting)},
			{Name: eventStream, Src: []string{string(StateRequesting)}, Dst: string(StateStreaming)},
			{Name: eventComplete, Src: []string{string(StateStreaming)}, Dst: string(StateCompleted)},
			{Name: eventStop, Src: []string{string(StateRequesting), string(StateStreaming)}, Dst: string(StateStopped)},
			{Name: eventFail, Src: []string{string(StateRequesting), string(StateStreaming)}, Dst: string(StateFailed)},
			{Name: eventReset, Src: []string{string(StateStopped), string(StateCompleted), string(StateFailed)}, Dst: string(StateIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if onEnter != nil {
					onEnter(State(e.Src), State(e.Dst))
				}
			},
		},
	)
}
