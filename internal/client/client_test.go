package client

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arqcopier/internal/config"
	"arqcopier/internal/errors"
	"arqcopier/internal/filesystem"
	"arqcopier/internal/network"
	"arqcopier/internal/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	root   string
	output string
	server *server.Server
	served chan error
}

func newFixture(t *testing.T, chunk int, timeout time.Duration) *fixture {
	t.Helper()

	f := &fixture{
		root:   t.TempDir(),
		output: t.TempDir(),
		served: make(chan error, 1),
	}

	s, err := server.Listen(&config.Config{
		IsServer:      true,
		ListenAddress: "127.0.0.1:0",
		RootDir:       f.root,
		ChunkSize:     chunk,
		Timeout:       timeout,
		Seed:          5,
		Digest:        "none",
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	f.server = s

	go func() { f.served <- s.ServeOne() }()
	return f
}

func (f *fixture) clientConfig(name string, chunk int) *config.Config {
	return &config.Config{
		ServerAddress: f.server.Addr().String(),
		FilePath:      name,
		OutputDir:     f.output,
		ChunkSize:     chunk,
		Seed:          9,
		Digest:        "blake2b",
	}
}

func (f *fixture) waitServed(t *testing.T) error {
	t.Helper()
	select {
	case err := <-f.served:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("server did not finish the session")
		return nil
	}
}

func writeSource(t *testing.T, dir, name string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*13 + 7)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
	return data
}

func TestFetchRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		chunk int
	}{
		{name: "partial last chunk", size: 1300, chunk: 512},
		{name: "exact multiple", size: 4 * 256, chunk: 256},
		{name: "empty file", size: 0, chunk: 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.chunk, 0)
			data := writeSource(t, f.root, "payload.bin", tt.size)

			res, err := Fetch(f.clientConfig("payload.bin", tt.chunk))
			require.NoError(t, err)
			require.NoError(t, f.waitServed(t))

			got, err := os.ReadFile(res.Path)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(data, got), "received file differs")
			assert.Equal(t, filepath.Join(f.output, "payload.bin"), res.Path)
			assert.Equal(t, int64(tt.size), res.Summary.Bytes)
			assert.Equal(t, uint64(tt.size/tt.chunk+1), res.Summary.FramesWritten)

			want, err := filesystem.HashFile(filepath.Join(f.root, "payload.bin"), filesystem.HashBLAKE2b)
			require.NoError(t, err)
			assert.Equal(t, want, res.Digest)
		})
	}
}

func TestFetchNameWithInnerDots(t *testing.T) {
	f := newFixture(t, 512, 0)
	data := writeSource(t, f.root, "report..v2.txt", 900)

	res, err := Fetch(f.clientConfig("report..v2.txt", 512))
	require.NoError(t, err)
	require.NoError(t, f.waitServed(t))

	assert.Equal(t, filepath.Join(f.output, "report..v2.txt"), res.Path)
	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "received file differs")
}

func TestFetchUnderLoss(t *testing.T) {
	f := newFixture(t, 64, 300*time.Millisecond)
	data := writeSource(t, f.root, "lossy.bin", 24*64+5)

	cfg := f.clientConfig("lossy.bin", 64)
	cfg.LossPercent = 25

	res, err := Fetch(cfg)
	require.NoError(t, err)
	require.NoError(t, f.waitServed(t))

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "received file differs")
	assert.Greater(t, res.Summary.FramesReceived, res.Summary.FramesWritten)

	rep := f.server.Registry().Snapshot()
	require.NotNil(t, rep.Last)
	require.NotNil(t, rep.Last.Summary)
	assert.Greater(t, rep.Last.Summary.Retransmissions, uint64(0))
}

func TestFetchNotFound(t *testing.T) {
	f := newFixture(t, 512, 0)

	_, err := Fetch(f.clientConfig("absent.bin", 512))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.ErrorIs(t, err, errors.ErrProtocol)
	require.NoError(t, f.waitServed(t))

	_, statErr := os.Stat(filepath.Join(f.output, "absent.bin"))
	assert.True(t, os.IsNotExist(statErr), "no destination file after a rejection")
}

func TestFetchRefusesExistingDestination(t *testing.T) {
	output := t.TempDir()
	existing := filepath.Join(output, "keep.bin")
	require.NoError(t, os.WriteFile(existing, []byte("original"), 0644))

	_, err := Fetch(&config.Config{
		ServerAddress: "127.0.0.1:9",
		FilePath:      "dir/keep.bin",
		OutputDir:     output,
		ChunkSize:     512,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFileSystem)
	assert.ErrorIs(t, err, os.ErrExist)

	got, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}

func TestFetchRejectsMalformedReply(t *testing.T) {
	fake, err := network.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer fake.Close()

	go func() {
		buf := make([]byte, 1024)
		_, from, err := fake.ReceiveFrom(buf, 2*time.Second)
		if err != nil {
			return
		}
		fake.SetPeer(from)
		_ = fake.Send([]byte("20"))
	}()

	_, err = Fetch(&config.Config{
		ServerAddress: fake.LocalAddr().String(),
		FilePath:      "x.bin",
		OutputDir:     t.TempDir(),
		ChunkSize:     512,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrProtocol)
	assert.NotErrorIs(t, err, errors.ErrNotFound)
}
