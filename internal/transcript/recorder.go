package transcript

import (
	"context"

	"ghostwriter/internal/logger"
	"ghostwriter/internal/protocol"
)

// Record appends every message from msgs to transcript id until ctx is done
// or msgs closes. Smoke messages are not recorded.
func (s *Store) Record(ctx context.Context, id string, msgs <-chan protocol.Message) {
	var seq int64
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if msg.Name == protocol.NameSmoke {
				continue
			}
			seq++
			if err := s.Append(context.WithoutCancel(ctx), id, Entry{Seq: seq, Message: msg}); err != nil {
				logger.Warn("append transcript", "transcript", id, "err", err)
			}
		}
	}
}
