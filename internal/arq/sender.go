package arq

import (
	"io"
	"log/slog"
	"time"

	"arqcopier/internal/errors"
	"arqcopier/internal/frame"
	"arqcopier/internal/loss"
	"arqcopier/internal/progress"
)

// SenderOptions tune a Sender
type SenderOptions struct {
	// Timeout is how long to wait for an acknowledgment before
	// retransmitting. Zero blocks forever.
	Timeout time.Duration

	// StrictAck makes the sender ignore non-terminal acknowledgments
	// that do not name the next expected sequence. Off by default: any
	// acknowledgment advances the transfer.
	StrictAck bool

	// Corrupter optionally damages outgoing checksums for testing.
	Corrupter *loss.Corrupter

	// Stats receives the session counters. A fresh set is used when nil.
	Stats *progress.Stats
}

// Sender is the provider side of a transfer
type Sender struct {
	link  Link
	codec *frame.Codec
	opts  SenderOptions
	stats *progress.Stats

	seq  int32
	out  []byte
	in   []byte
	ack  *frame.Frame
	data []byte
}

// NewSender returns a sender that writes frames to link
func NewSender(link Link, codec *frame.Codec, opts SenderOptions) *Sender {
	stats := opts.Stats
	if stats == nil {
		stats = progress.NewStats("provider", "", 0, codec.Capacity())
	}
	return &Sender{
		link:  link,
		codec: codec,
		opts:  opts,
		stats: stats,
		out:   make([]byte, codec.Size()),
		// one spare byte so oversized datagrams are detected instead of truncated
		in:   make([]byte, codec.Size()+1),
		ack:  codec.NewFrame(),
		data: make([]byte, codec.Capacity()),
	}
}

// Stats returns the live counters of the session
func (s *Sender) Stats() *progress.Stats {
	return s.stats
}

// Send streams src to the peer and returns once the peer reports the
// transfer complete. There is no retry bound: an unreachable peer keeps the
// sender retransmitting.
func (s *Sender) Send(src io.Reader) (progress.Summary, error) {
	for {
		n, err := io.ReadFull(src, s.data)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return s.stats.Snapshot(), errors.NewFileSystemError("read_chunk", "source", err)
		}

		// A short or empty read still produces a frame; a length below
		// capacity is the only end-of-file signal the receiver gets.
		f, err := s.codec.Data(s.seq, s.data[:n])
		if err != nil {
			return s.stats.Snapshot(), err
		}

		if err := s.transmit(f, false); err != nil {
			return s.stats.Snapshot(), err
		}

		done, err := s.awaitAck(f)
		if err != nil {
			return s.stats.Snapshot(), err
		}
		s.stats.UpdateTransferred(int64(n))

		if done {
			summary := s.stats.Snapshot()
			slog.Info("Transfer acknowledged as complete",
				"bytes", summary.Bytes,
				"frames_sent", summary.FramesSent,
				"acks_received", summary.AcksReceived,
				"retransmissions", summary.Retransmissions)
			return summary, nil
		}

		s.seq = frame.Flip(s.seq)
	}
}

// transmit encodes f and writes it to the link, damaging the checksum on
// the wire copy when a corrupter says so
func (s *Sender) transmit(f *frame.Frame, retransmit bool) error {
	wire := *f
	var damaged bool
	wire.Checksum, damaged = s.opts.Corrupter.Apply(f.Checksum)

	if err := s.link.Send(s.codec.Encode(&wire, s.out)); err != nil {
		return err
	}

	s.stats.FramesSent.Add(1)
	if retransmit {
		s.stats.Retransmissions.Add(1)
	}
	if damaged {
		s.stats.Corrupted.Add(1)
	}

	slog.Debug("Frame sent",
		"sequence", f.Sequence,
		"bytes", f.Length,
		"retransmit", retransmit,
		"corrupted", damaged)
	return nil
}

// awaitAck blocks until an acknowledgment for f arrives, retransmitting f
// on every timeout. It reports whether the acknowledgment was terminal.
func (s *Sender) awaitAck(f *frame.Frame) (bool, error) {
	for {
		n, err := s.link.Receive(s.in, s.opts.Timeout)
		if err != nil {
			if !errors.IsTimeout(err) {
				return false, err
			}
			s.stats.Timeouts.Add(1)
			slog.Warn("Acknowledgment timed out, retransmitting",
				"sequence", f.Sequence,
				"timeout", s.opts.Timeout.String())
			if err := s.transmit(f, true); err != nil {
				return false, err
			}
			continue
		}

		if err := s.codec.Decode(s.in[:n], s.ack); err != nil {
			slog.Debug("Discarding malformed acknowledgment", "error", err)
			continue
		}
		if !s.ack.Valid() {
			slog.Debug("Discarding acknowledgment with bad checksum", "ack", s.ack.Ack)
			continue
		}

		s.stats.AcksReceived.Add(1)
		slog.Debug("Acknowledgment received", "ack", s.ack.Ack)

		if s.ack.IsTerminal() {
			return true, nil
		}
		if s.opts.StrictAck && s.ack.Ack != frame.Flip(f.Sequence) {
			slog.Debug("Ignoring acknowledgment for another frame",
				"ack", s.ack.Ack,
				"want", frame.Flip(f.Sequence))
			continue
		}
		return false, nil
	}
}
