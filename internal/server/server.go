package server

import (
	"context"
	stderrors "errors"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"strings"
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
	"arqcopier/internal/status"
)

// Reply strings of the session handshake
const (
	ReplyFound    = "200"
	ReplyNotFound = "404"
)

// Server answers file requests on one UDP endpoint, one session at a time
type Server struct {
	cfg      *config.Config
	endpoint *network.Endpoint
	codec    *frame.Codec
	registry *status.Registry
	rnd      *rand.Rand
}

// Listen binds the provider endpoint described by cfg
func Listen(cfg *config.Config) (*Server, error) {
	info, err := os.Stat(cfg.RootDir)
	if err != nil {
		return nil, errors.NewFileSystemError("stat_root", cfg.RootDir, err)
	}
	if !info.IsDir() {
		return nil, errors.NewValidationError("root", cfg.RootDir, "not a directory")
	}

	codec, err := frame.NewCodec(cfg.ChunkSize)
	if err != nil {
		return nil, err
	}

	endpoint, err := network.Listen(cfg.ListenAddress)
	if err != nil {
		return nil, err
	}

	if err := network.OptimizeUDPConnection(endpoint.Conn(), cfg.TTL, cfg.TOS); err != nil {
		slog.Warn("Failed to tune UDP socket", "error", err)
	}

	return &Server{
		cfg:      cfg,
		endpoint: endpoint,
		codec:    codec,
		registry: status.NewRegistry(),
		rnd:      rand.New(rand.NewSource(cfg.RandomSeed())),
	}, nil
}

// Addr returns the bound address
func (s *Server) Addr() *net.UDPAddr {
	return s.endpoint.LocalAddr()
}

// Registry returns the session record shared with the status endpoint
func (s *Server) Registry() *status.Registry {
	return s.registry
}

// Close stops the server. A blocked Serve returns nil.
func (s *Server) Close() error {
	return s.endpoint.Close()
}

// Serve handles requests until the endpoint is closed. A failed session is
// logged and the next request is served, unless ExitOnError is set.
func (s *Server) Serve() error {
	slog.Info("Server ready to accept requests", "address", s.Addr().String(), "root", s.cfg.RootDir)

	for {
		err := s.ServeOne()
		if err == nil {
			continue
		}
		if stderrors.Is(err, net.ErrClosed) {
			slog.Info("Server endpoint closed")
			return nil
		}

		logging.LogError(err, "session")
		if s.cfg.ExitOnError {
			return err
		}
	}
}

// ServeOne waits for one request and runs it to completion. A "404" answer
// is not an error.
func (s *Server) ServeOne() error {
	s.endpoint.SetPeer(nil)

	buf := make([]byte, max(config.DefaultRequestBuffer, s.codec.Size()+1))
	var (
		n    int
		from *net.UDPAddr
		err  error
	)
	for {
		n, from, err = s.endpoint.ReceiveFrom(buf, 0)
		if err != nil {
			return err
		}
		// A frame-sized datagram is a late acknowledgment from a finished
		// session, not a file name.
		if n != s.codec.Size() {
			break
		}
		slog.Debug("Ignoring stray frame while waiting for a request", "from", from.String(), "bytes", n)
	}

	// Requesters written in C may send the terminating NUL
	name := strings.TrimRight(string(buf[:n]), "\x00")
	s.endpoint.SetPeer(from)
	slog.Info("File requested", "file", name, "peer", from.String())

	path, err := filesystem.ResolveUnderRoot(s.cfg.RootDir, name)
	if err != nil {
		slog.Warn("Rejected request path", "file", name, "error", err)
		return s.reject(from, name)
	}
	if !filesystem.FileExists(path) {
		slog.Warn("Requested file not found", "file", name, "peer", from.String())
		return s.reject(from, name)
	}

	// Existence was probed above; the file can still vanish before the open.
	file, err := filesystem.OpenSource(path)
	if err != nil {
		if rerr := s.reject(from, name); rerr != nil {
			slog.Warn("Failed to send rejection", "error", rerr)
		}
		return err
	}
	defer file.Close()

	if err := s.endpoint.Send([]byte(ReplyFound)); err != nil {
		return err
	}

	return s.transfer(file, path, name, from)
}

func (s *Server) reject(peer *net.UDPAddr, name string) error {
	s.registry.Rejected(peer.String(), name)
	return s.endpoint.Send([]byte(ReplyNotFound))
}

func (s *Server) transfer(file *os.File, path, name string, peer *net.UDPAddr) error {
	size := int64(-1)
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	stats := progress.NewStats("provider", name, max(size, 0), s.cfg.ChunkSize)
	s.registry.Begin(stats)
	logging.LogSessionStart("provider", name, peer.String(), size, s.cfg.ChunkSize)

	var reporter *progress.Reporter
	if s.cfg.ShowProgress {
		reporter = progress.NewReporter(stats, s.cfg.ShowProgress)
		reporter.Start()
	}

	sender := arq.NewSender(s.endpoint, s.codec, arq.SenderOptions{
		Timeout:   s.cfg.Timeout,
		StrictAck: s.cfg.StrictAck,
		Corrupter: loss.NewCorrupter(s.cfg.ErrorPercent, rand.NewSource(s.rnd.Int63())),
		Stats:     stats,
	})

	summary, err := sender.Send(file)
	summary.Duration = time.Since(stats.StartTime)
	if reporter != nil {
		reporter.Stop()
	}

	logging.LogSessionEnd(err == nil, summary.Bytes, summary.Duration)

	session := status.Session{
		Peer:     peer.String(),
		Filename: name,
		Success:  err == nil,
		Summary:  &summary,
	}
	if err != nil {
		session.Error = err.Error()
	}
	s.registry.End(session)

	if err != nil {
		return err
	}

	logDigest(s.cfg.Digest, path)
	return nil
}

func logDigest(algorithm, path string) {
	algo := filesystem.HashAlgorithm(algorithm)
	if algo == filesystem.HashNone || algo == "" {
		return
	}
	digest, err := filesystem.HashFile(path, algo)
	if err != nil {
		slog.Warn("Failed to compute digest", "file", path, "error", err)
		return
	}
	logging.LogDigest("provider", path, algorithm, digest)
}

// Run starts the provider with the given configuration and serves until
// the process exits
func Run(cfg *config.Config) error {
	slog.Info("Starting server", "address", cfg.ListenAddress, "root", cfg.RootDir)

	s, err := Listen(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.StatusAddress != "" {
		srv, _, err := status.Serve(cfg.StatusAddress, s.Registry())
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	return s.Serve()
}
