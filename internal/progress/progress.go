package progress

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"arqcopier/internal/logging"
)

// Stats holds the counters of one transfer session. The protocol loop is the
// only writer; the reporter and the status endpoint read concurrently.
type Stats struct {
	Role       string
	Filename   string
	TotalBytes int64 // 0 when the size is unknown (requester side)
	ChunkSize  int
	StartTime  time.Time

	Bytes atomic.Int64

	// provider side
	FramesSent      atomic.Uint64
	Retransmissions atomic.Uint64
	Timeouts        atomic.Uint64
	AcksReceived    atomic.Uint64
	Corrupted       atomic.Uint64

	// requester side
	FramesReceived atomic.Uint64
	FramesWritten  atomic.Uint64
	Duplicates     atomic.Uint64
	FramesLost     atomic.Uint64
	FramesCorrupt  atomic.Uint64
	AcksSent       atomic.Uint64
}

// Summary is a point-in-time copy of Stats
type Summary struct {
	Role            string        `json:"role"`
	Filename        string        `json:"filename"`
	TotalBytes      int64         `json:"total_bytes,omitempty"`
	ChunkSize       int           `json:"chunk_size"`
	Bytes           int64         `json:"bytes"`
	FramesSent      uint64        `json:"frames_sent,omitempty"`
	Retransmissions uint64        `json:"retransmissions,omitempty"`
	Timeouts        uint64        `json:"timeouts,omitempty"`
	AcksReceived    uint64        `json:"acks_received,omitempty"`
	Corrupted       uint64        `json:"corrupted,omitempty"`
	FramesReceived  uint64        `json:"frames_received,omitempty"`
	FramesWritten   uint64        `json:"frames_written,omitempty"`
	Duplicates      uint64        `json:"duplicates,omitempty"`
	FramesLost      uint64        `json:"frames_lost,omitempty"`
	FramesCorrupt   uint64        `json:"frames_corrupt,omitempty"`
	AcksSent        uint64        `json:"acks_sent,omitempty"`
	Duration        time.Duration `json:"duration_ns"`
}

// NewStats returns session counters started now
func NewStats(role, filename string, totalBytes int64, chunkSize int) *Stats {
	return &Stats{
		Role:       role,
		Filename:   filename,
		TotalBytes: totalBytes,
		ChunkSize:  chunkSize,
		StartTime:  time.Now(),
	}
}

// Snapshot copies the counters
func (s *Stats) Snapshot() Summary {
	return Summary{
		Role:            s.Role,
		Filename:        s.Filename,
		TotalBytes:      s.TotalBytes,
		ChunkSize:       s.ChunkSize,
		Bytes:           s.Bytes.Load(),
		FramesSent:      s.FramesSent.Load(),
		Retransmissions: s.Retransmissions.Load(),
		Timeouts:        s.Timeouts.Load(),
		AcksReceived:    s.AcksReceived.Load(),
		Corrupted:       s.Corrupted.Load(),
		FramesReceived:  s.FramesReceived.Load(),
		FramesWritten:   s.FramesWritten.Load(),
		Duplicates:      s.Duplicates.Load(),
		FramesLost:      s.FramesLost.Load(),
		FramesCorrupt:   s.FramesCorrupt.Load(),
		AcksSent:        s.AcksSent.Load(),
		Duration:        time.Since(s.StartTime),
	}
}

// UpdateTransferred atomically adds to the transferred bytes count
func (s *Stats) UpdateTransferred(bytes int64) {
	s.Bytes.Add(bytes)
}

// GetTransferred atomically gets the current transferred bytes count
func (s *Stats) GetTransferred() int64 {
	return s.Bytes.Load()
}

// Reporter handles progress reporting
type Reporter struct {
	stats       *Stats
	ticker      *time.Ticker
	done        chan struct{}
	showConsole bool
}

// NewReporter creates a new progress reporter
func NewReporter(stats *Stats, showConsole bool) *Reporter {
	return &Reporter{
		stats:       stats,
		ticker:      time.NewTicker(1 * time.Second),
		done:        make(chan struct{}),
		showConsole: showConsole,
	}
}

// Start begins progress reporting
func (r *Reporter) Start() {
	go r.reportLoop()
}

// Stop stops progress reporting
func (r *Reporter) Stop() {
	r.ticker.Stop()
	close(r.done)
	if r.showConsole {
		fmt.Println() // Print newline after progress bar
	}
}

// reportLoop runs the progress reporting loop
func (r *Reporter) reportLoop() {
	var lastTransferred int64
	lastUpdateTime := time.Now()

	for {
		select {
		case <-r.ticker.C:
			r.updateProgress(&lastTransferred, &lastUpdateTime)
		case <-r.done:
			return
		}
	}
}

// updateProgress updates and displays current progress
func (r *Reporter) updateProgress(lastTransferred *int64, lastUpdateTime *time.Time) {
	now := time.Now()
	transferred := r.stats.Bytes.Load()

	timeDiff := now.Sub(*lastUpdateTime).Seconds()
	rate := float64(transferred-*lastTransferred) / 1024 / timeDiff

	// Log progress periodically (every 10 seconds)
	if int(now.Sub(r.stats.StartTime).Seconds())%10 == 0 {
		logging.LogTransferProgress(r.stats.Filename, transferred, r.stats.TotalBytes, rate)
	}

	if r.showConsole {
		fmt.Print("\r" + r.line(transferred, rate))
	}

	*lastTransferred = transferred
	*lastUpdateTime = now
}

// line renders the console status line
func (r *Reporter) line(transferred int64, rateKB float64) string {
	frames := r.stats.FramesSent.Load()
	label := "sent"
	if r.stats.Role == "requester" {
		frames = r.stats.FramesReceived.Load()
		label = "received"
	}

	if r.stats.TotalBytes <= 0 {
		return fmt.Sprintf("%d bytes, %d frames %s at %.2f KB/s", transferred, frames, label, rateKB)
	}

	const barWidth = 30
	percent := float64(transferred) / float64(r.stats.TotalBytes) * 100
	if percent > 100 {
		percent = 100
	}
	completedWidth := int(float64(barWidth) * percent / 100)
	progressBar := strings.Repeat("█", completedWidth) + strings.Repeat("░", barWidth-completedWidth)

	return fmt.Sprintf("[%s] %.1f%% (%d/%d bytes) %d frames %s at %.2f KB/s",
		progressBar, percent, transferred, r.stats.TotalBytes, frames, label, rateKB)
}
