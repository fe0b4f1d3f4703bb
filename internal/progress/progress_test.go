package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsSnapshot(t *testing.T) {
	stats := NewStats("provider", "report.pdf", 2048, 512)
	stats.UpdateTransferred(1024)
	stats.FramesSent.Add(3)
	stats.Retransmissions.Add(1)
	stats.AcksReceived.Add(2)

	s := stats.Snapshot()
	assert.Equal(t, "provider", s.Role)
	assert.Equal(t, "report.pdf", s.Filename)
	assert.Equal(t, int64(2048), s.TotalBytes)
	assert.Equal(t, int64(1024), s.Bytes)
	assert.Equal(t, uint64(3), s.FramesSent)
	assert.Equal(t, uint64(1), s.Retransmissions)
	assert.Equal(t, uint64(2), s.AcksReceived)
	assert.Equal(t, int64(1024), stats.GetTransferred())
	assert.GreaterOrEqual(t, s.Duration, time.Duration(0))
}

func TestReporterLine(t *testing.T) {
	provider := NewStats("provider", "a.bin", 1000, 512)
	provider.UpdateTransferred(500)
	provider.FramesSent.Add(1)
	r := NewReporter(provider, false)
	defer r.ticker.Stop()

	line := r.line(500, 1.5)
	assert.Contains(t, line, "50.0%")
	assert.Contains(t, line, "500/1000 bytes")
	assert.Contains(t, line, "1 frames sent")

	requester := NewStats("requester", "a.bin", 0, 512)
	requester.FramesReceived.Add(4)
	r2 := NewReporter(requester, false)
	defer r2.ticker.Stop()

	line = r2.line(2048, 0)
	assert.Contains(t, line, "2048 bytes")
	assert.Contains(t, line, "4 frames received")
}

func TestReporterStartStop(t *testing.T) {
	stats := NewStats("provider", "a.bin", 10, 512)
	r := NewReporter(stats, false)
	r.Start()
	r.Stop()
}
