package ws

import (
	"time"

	"github.com/PumpeDie/teamup/internal/domain"
	"github.com/PumpeDie/teamup/internal/stream"
)

// DefaultHeartbeat is the keep-alive interval used when none is given.
const DefaultHeartbeat = 25 * time.Second

// Sender is a connected watcher.
type Sender interface {
	Send(frame Frame) error
	Heartbeat() error
}

// Pump forwards every snapshot of s to sender until the stream ends, a send
// fails or gone is closed. The stream is stopped before Pump returns. A
// stream that ended with an error gets a final error frame, and that error
// is returned.
func Pump[T any](s *stream.Stream[T], sender Sender, gone <-chan struct{}, heartbeat time.Duration) error {
	defer s.Stop()
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	var seq int64
	for {
		select {
		case snapshot, ok := <-s.Changes():
			if !ok {
				err := s.Wait()
				if err != nil {
					seq++
					_ = sender.Send(Frame{Type: FrameError, Seq: seq, Code: domain.CodeOf(err), Error: err.Error()})
				}
				return err
			}
			seq++
			if err := sender.Send(Frame{Type: FrameSnapshot, Seq: seq, Data: snapshot}); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := sender.Heartbeat(); err != nil {
				return nil
			}
		case <-gone:
			return nil
		}
	}
}
