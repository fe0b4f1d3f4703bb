package client

import (
	"bufio"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"time"

	"arqcopier/internal/arq"
	"arqcopier/internal/config"
	"arqcopier/internal/errors"
	"arqcopier/internal/filesystem"
	"arqcopier/internal/frame"
	"arqcopier/internal/logging"
	"arqcopier/internal/loss"
	"arqcopier/internal/network"
	"arqcopier/internal/progress"
)

// Handshake replies understood by the requester
const (
	replyFound    = "200"
	replyNotFound = "404"
)

// Result describes a completed fetch
type Result struct {
	Path    string
	Peer    string
	Summary progress.Summary
	Digest  string
}

// Run fetches cfg.FilePath from the configured server
func Run(cfg *config.Config) error {
	slog.Info("Starting client", "server", cfg.ServerAddress, "file", cfg.FilePath)

	res, err := Fetch(cfg)
	if err != nil {
		return err
	}

	slog.Info("File received",
		"path", res.Path,
		"bytes", res.Summary.Bytes,
		"frames_lost", res.Summary.FramesLost,
		"duplicates", res.Summary.Duplicates)
	return nil
}

// Fetch requests one file and writes it into cfg.OutputDir under its base
// name. An existing destination is never overwritten.
func Fetch(cfg *config.Config) (*Result, error) {
	codec, err := frame.NewCodec(cfg.ChunkSize)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(cfg.FilePath)
	destPath := filepath.Join(cfg.OutputDir, name)
	if _, err := os.Stat(destPath); err == nil {
		return nil, errors.NewFileSystemError("create_destination", destPath, os.ErrExist)
	}

	if err := filesystem.EnsureDirectoryExists(cfg.OutputDir); err != nil {
		return nil, err
	}

	endpoint, err := network.Dial(cfg.ServerAddress)
	if err != nil {
		return nil, err
	}
	defer endpoint.Close()

	if err := network.OptimizeUDPConnection(endpoint.Conn(), cfg.TTL, cfg.TOS); err != nil {
		slog.Warn("Failed to tune UDP socket", "error", err)
	}

	peer, err := handshake(endpoint, cfg.FilePath)
	if err != nil {
		return nil, err
	}

	file, err := filesystem.CreateDestination(destPath)
	if err != nil {
		return nil, err
	}

	summary, err := receive(cfg, endpoint, codec, file, name, peer)
	if err != nil {
		file.Close()
		if rerr := os.Remove(destPath); rerr != nil {
			slog.Warn("Failed to remove partial file", "path", destPath, "error", rerr)
		}
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, errors.NewFileSystemError("close", destPath, err)
	}

	res := &Result{
		Path:    destPath,
		Peer:    peer.String(),
		Summary: summary,
	}

	if algo := filesystem.HashAlgorithm(cfg.Digest); algo != filesystem.HashNone && algo != "" {
		digest, err := filesystem.HashFile(destPath, algo)
		if err != nil {
			slog.Warn("Failed to compute digest", "path", destPath, "error", err)
		} else {
			res.Digest = digest
			logging.LogDigest("requester", destPath, cfg.Digest, digest)
		}
	}

	return res, nil
}

// handshake sends the file name and waits for the server's verdict. The
// address the reply comes from becomes the peer for the transfer.
func handshake(endpoint *network.Endpoint, filename string) (*net.UDPAddr, error) {
	if err := endpoint.Send([]byte(filename)); err != nil {
		return nil, err
	}
	slog.Debug("File requested", "file", filename, "server", endpoint.Peer().String())

	buf := make([]byte, config.DefaultRequestBuffer)
	n, from, err := endpoint.ReceiveFrom(buf, 0)
	if err != nil {
		return nil, err
	}

	switch reply := string(buf[:n]); reply {
	case replyFound:
		endpoint.SetPeer(from)
		slog.Info("Server accepted request", "file", filename, "server", from.String())
		return from, nil
	case replyNotFound:
		return nil, errors.NewProtocolError("handshake",
			fmt.Sprintf("server has no file %q", filename), errors.ErrNotFound)
	default:
		return nil, errors.NewProtocolError("handshake",
			fmt.Sprintf("unexpected reply %q (%d bytes)", truncate(reply, 16), n), nil)
	}
}

func receive(cfg *config.Config, endpoint *network.Endpoint, codec *frame.Codec,
	file *os.File, name string, peer *net.UDPAddr) (progress.Summary, error) {

	stats := progress.NewStats("requester", name, 0, cfg.ChunkSize)
	logging.LogSessionStart("requester", name, peer.String(), -1, cfg.ChunkSize)

	var reporter *progress.Reporter
	if cfg.ShowProgress {
		reporter = progress.NewReporter(stats, cfg.ShowProgress)
		reporter.Start()
	}

	receiver := arq.NewReceiver(endpoint, codec, arq.ReceiverOptions{
		Injector: loss.New(cfg.LossPercent, rand.NewSource(cfg.RandomSeed())),
		Stats:    stats,
	})

	w := bufio.NewWriterSize(file, 64*1024)
	summary, err := receiver.Receive(w)
	if err == nil {
		if ferr := w.Flush(); ferr != nil {
			err = errors.NewFileSystemError("write_chunk", file.Name(), ferr)
		}
	}
	summary.Duration = time.Since(stats.StartTime)

	if reporter != nil {
		reporter.Stop()
	}
	logging.LogSessionEnd(err == nil, summary.Bytes, summary.Duration)

	return summary, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
