package arq

import (
	"io"
	"log/slog"

	"arqcopier/internal/errors"
	"arqcopier/internal/frame"
	"arqcopier/internal/loss"
	"arqcopier/internal/progress"
)

// ReceiverOptions tune a Receiver
type ReceiverOptions struct {
	// Injector drops frames before they are looked at. Nil drops nothing.
	Injector *loss.Injector

	// Stats receives the session counters. A fresh set is used when nil.
	Stats *progress.Stats
}

// Receiver is the requester side of a transfer
type Receiver struct {
	link     Link
	codec    *frame.Codec
	injector *loss.Injector
	stats    *progress.Stats

	expected int32
	in       []byte
	out      []byte
	f        *frame.Frame
}

// NewReceiver returns a receiver reading frames from link
func NewReceiver(link Link, codec *frame.Codec, opts ReceiverOptions) *Receiver {
	stats := opts.Stats
	if stats == nil {
		stats = progress.NewStats("requester", "", 0, codec.Capacity())
	}
	return &Receiver{
		link:     link,
		codec:    codec,
		injector: opts.Injector,
		stats:    stats,
		in:       make([]byte, codec.Size()+1),
		out:      make([]byte, codec.Size()),
		f:        codec.NewFrame(),
	}
}

// Stats returns the live counters of the session
func (r *Receiver) Stats() *progress.Stats {
	return r.stats
}

// Receive writes the incoming file to dst and returns after the terminal
// acknowledgment has been sent.
func (r *Receiver) Receive(dst io.Writer) (progress.Summary, error) {
	for {
		n, err := r.link.Receive(r.in, 0)
		if err != nil {
			if errors.IsTimeout(err) {
				continue
			}
			return r.stats.Snapshot(), err
		}
		r.stats.FramesReceived.Add(1)

		if !r.injector.ShouldAccept() {
			r.stats.FramesLost.Add(1)
			slog.Debug("Frame dropped by loss injector")
			continue
		}

		if err := r.codec.Decode(r.in[:n], r.f); err != nil {
			r.stats.FramesCorrupt.Add(1)
			slog.Debug("Discarding malformed frame", "error", err)
			continue
		}
		if !r.f.Valid() {
			r.stats.FramesCorrupt.Add(1)
			slog.Debug("Discarding frame with bad checksum", "sequence", r.f.Sequence, "bytes", r.f.Length)
			continue
		}

		slog.Debug("Frame received", "sequence", r.f.Sequence, "bytes", r.f.Length)

		if r.f.Sequence == r.expected {
			if _, err := dst.Write(r.f.Data()); err != nil {
				return r.stats.Snapshot(), errors.NewFileSystemError("write_chunk", "destination", err)
			}
			r.stats.FramesWritten.Add(1)
			r.stats.UpdateTransferred(int64(r.f.Length))
			r.expected = frame.Flip(r.expected)
		} else {
			// Acknowledge again so a sender that lost our previous
			// acknowledgment can move on.
			r.stats.Duplicates.Add(1)
			slog.Debug("Duplicate frame, not written", "sequence", r.f.Sequence)
		}

		final := r.f.IsFinal(r.codec.Capacity())
		ack := r.expected
		if final {
			ack = frame.TerminalAck
		}

		if err := r.link.Send(r.codec.Encode(r.codec.Ack(ack), r.out)); err != nil {
			return r.stats.Snapshot(), err
		}
		r.stats.AcksSent.Add(1)
		slog.Debug("Acknowledgment sent", "ack", ack)

		if final {
			summary := r.stats.Snapshot()
			slog.Info("Final chunk received",
				"bytes", summary.Bytes,
				"frames_received", summary.FramesReceived,
				"frames_written", summary.FramesWritten,
				"frames_lost", summary.FramesLost,
				"acks_sent", summary.AcksSent)
			return summary, nil
		}
	}
}
