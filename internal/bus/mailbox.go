package bus

import "ghostwriter/internal/logger"

const (
	mailboxInitialCap = 64
	mailboxHardLimit  = 10000
)

// mailbox returns a channel pair with an unbounded queue between them.
// Senders never block on a slow reader; past hardLimit queued items the
// oldest is dropped. Closing in flushes the queue and then closes out;
// closing done discards the queue.
func mailbox[T any](initialCap, hardLimit int, done <-chan struct{}) (chan<- T, <-chan T) {
	in := make(chan T, 10)
	out := make(chan T, 10)

	go func() {
		defer close(out)

		queue := make([]T, 0, initialCap)
		for {
			var next T
			var downstream chan T
			if len(queue) > 0 {
				next = queue[0]
				downstream = out
			}

			select {
			case <-done:
				return

			case val, ok := <-in:
				if !ok {
					for _, item := range queue {
						select {
						case out <- item:
						case <-done:
							return
						}
					}
					return
				}
				if len(queue) >= hardLimit {
					logger.Warn("mailbox limit reached, dropping oldest", "limit", hardLimit)
					queue = queue[1:]
				}
				queue = append(queue, val)

			case downstream <- next:
				queue = queue[1:]
			}
		}
	}()

	return in, out
}
