package stream

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/saker-ai/audiosync/pkg/codec"
)

// DefaultQueueSize is the number of packets a Runner buffers ahead of the
// decoder.
const DefaultQueueSize = 9

// ErrRunnerClosed is returned by Enqueue after Finish.
var ErrRunnerClosed = errors.New("stream: runner closed")

// Runner feeds one stream from a bounded queue on its own goroutine, so a
// demuxer can stay ahead of decoding without unbounded buffering.
type Runner struct {
	stream Stream
	queue  chan *codec.Packet
	done   chan struct{}
	closed bool
}

// NewRunner wraps s. size <= 0 selects DefaultQueueSize.
func NewRunner(s Stream, size int) *Runner {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Runner{
		stream: s,
		queue:  make(chan *codec.Packet, size),
		done:   make(chan struct{}),
	}
}

// Stream returns the wrapped stream.
func (r *Runner) Stream() Stream { return r.stream }

// Enqueue blocks until pkt fits in the queue or ctx is done. The packet is
// copied so the caller may reuse its buffer.
func (r *Runner) Enqueue(ctx context.Context, pkt codec.Packet) error {
	if r.closed {
		return ErrRunnerClosed
	}
	cp := codec.Packet{Data: append([]byte(nil), pkt.Data...), PTS: pkt.PTS}
	select {
	case r.queue <- &cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrRunnerClosed
	}
}

// Finish marks the end of input. Run delivers end of stream after the
// queued packets. Finish must be called from the goroutine that enqueues.
func (r *Runner) Finish() {
	if r.closed {
		return
	}
	r.closed = true
	close(r.queue)
}

// Run drains the queue into the stream until Finish or ctx cancellation.
// End of stream is signalled only when input was finished.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt, ok := <-r.queue:
			if !ok {
				r.stream.ProcessPacket(nil)
				return nil
			}
			r.stream.ProcessPacket(pkt)
		}
	}
}

// RunAll runs every runner concurrently and returns the first error.
func RunAll(ctx context.Context, runners ...*Runner) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error { return r.Run(ctx) })
	}
	return g.Wait()
}
