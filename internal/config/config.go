package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Constants for default values
const (
	DefaultChunkSize     = 512
	DefaultTimeout       = 0 // block until an acknowledgment arrives
	DefaultListenAddr    = "0.0.0.0:2020"
	DefaultServerAddr    = "127.0.0.1:2020"
	DefaultRootDir       = "."
	DefaultOutputDir     = "."
	DefaultLogDir        = "logs"
	DefaultDigest        = "md5"
	DefaultRequestBuffer = 1024

	// Largest UDP payload over IPv4 minus the fixed frame fields
	// (sequence, ack, length, checksum).
	MaxUDPPayload  = 65507
	FrameOverhead  = 4 + 4 + 8 + 4
	MaxChunkSize   = MaxUDPPayload - FrameOverhead
	UDPBufferSize  = 1024 * 1024 // 1MB
	HashBufferSize = 4 * 1024 * 1024

	// File system constants
	LogDirPerms = 0755
	OutputPerms = 0644
)

// Digest algorithms accepted by -digest
var supportedDigests = map[string]bool{
	"none":    true,
	"md5":     true,
	"sha256":  true,
	"blake2b": true,
}

// Config holds all configuration parameters for the application.
// It is built once at startup and passed by pointer; nothing below
// main reads flags or globals.
type Config struct {
	// Provider settings
	IsServer      bool
	ListenAddress string
	RootDir       string
	StatusAddress string
	ExitOnError   bool
	ErrorPercent  float64
	Timeout       time.Duration
	StrictAck     bool

	// Requester settings
	ServerAddress string
	FilePath      string
	OutputDir     string
	LossPercent   float64

	// Common parameters
	ChunkSize    int
	Seed         int64
	Digest       string
	TTL          int
	TOS          int
	ShowProgress bool
	Verbose      bool
	LogDir       string
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.ChunkSize > MaxChunkSize {
		return fmt.Errorf("chunk size must not exceed %d bytes", MaxChunkSize)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if c.TTL < 0 || c.TTL > 255 {
		return fmt.Errorf("ttl must be between 0 and 255")
	}
	if c.TOS < 0 || c.TOS > 255 {
		return fmt.Errorf("tos must be between 0 and 255")
	}
	if c.Digest != "" && !supportedDigests[c.Digest] {
		return fmt.Errorf("unsupported digest algorithm %q", c.Digest)
	}

	if !c.IsServer && c.FilePath == "" {
		return fmt.Errorf("file path is required in client mode")
	}

	return nil
}

// Normalize clamps the percentage inputs. Values <= 0 or > 100 fall back
// to "never" so the injectors downstream only see (0,100].
func (c *Config) Normalize() {
	if clamped := ClampPercent(c.LossPercent); clamped != c.LossPercent {
		slog.Warn("Loss percentage out of range, disabling loss", "loss_percent", c.LossPercent)
		c.LossPercent = clamped
	}
	if clamped := ClampPercent(c.ErrorPercent); clamped != c.ErrorPercent {
		slog.Warn("Error percentage out of range, disabling corruption", "error_percent", c.ErrorPercent)
		c.ErrorPercent = clamped
	}
	if c.Digest == "" {
		c.Digest = "none"
	}
}

// ClampPercent returns p when it lies in (0,100] and 0 otherwise
func ClampPercent(p float64) float64 {
	if p <= 0 || p > 100 {
		return 0
	}
	return p
}

// ParseFlags parses the process command line and returns a Config
func ParseFlags() (*Config, error) {
	return Parse(os.Args[0], os.Args[1:])
}

// Parse parses args with a dedicated flag set and returns a validated Config
func Parse(name string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	// Server flags
	isServer := fs.Bool("server", false, "Run in provider (server) mode")
	listenAddr := fs.String("listen", DefaultListenAddr, "Address to listen on (server mode)")
	rootDir := fs.String("root", DefaultRootDir, "Directory files are served from (server mode)")
	statusAddr := fs.String("status", "", "Address for the HTTP status endpoint, empty to disable (server mode)")
	exitOnError := fs.Bool("exit-on-error", false, "Exit when a transfer session fails (server mode)")
	errorPercent := fs.Float64("error", 0, "Percentage of data frames sent with a corrupted checksum (server mode)")
	timeout := fs.Duration("timeout", DefaultTimeout, "Acknowledgment timeout before retransmitting, 0 blocks (server mode)")
	strictAck := fs.Bool("strict-ack", false, "Ignore acknowledgments that do not match the frame in flight (server mode)")

	// Client flags
	serverAddr := fs.String("connect", DefaultServerAddr, "Server address to request from (client mode)")
	filePath := fs.String("file", "", "File to request (client mode)")
	outputDir := fs.String("output", DefaultOutputDir, "Directory to store the received file (client mode)")
	lossPercent := fs.Float64("loss", 0, "Percentage of received frames dropped on purpose (client mode)")

	// Common flags
	chunkSize := fs.Int("chunk", DefaultChunkSize, "Chunk capacity in bytes, must match on both peers")
	seed := fs.Int64("seed", 0, "Seed for the loss and corruption injectors, 0 uses the clock")
	digest := fs.String("digest", DefaultDigest, "Digest logged after a transfer: none, md5, sha256, blake2b")
	ttl := fs.Int("ttl", 0, "IPv4 TTL for outgoing datagrams, 0 keeps the OS default")
	tos := fs.Int("tos", 0, "IPv4 TOS for outgoing datagrams, 0 keeps the OS default")
	showProgress := fs.Bool("progress", false, "Show progress during transfer")
	verbose := fs.Bool("verbose", false, "Log every frame and acknowledgment")
	logDir := fs.String("log-dir", DefaultLogDir, "Directory for log files, empty for console only")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	config := &Config{
		IsServer:      *isServer,
		ListenAddress: *listenAddr,
		RootDir:       *rootDir,
		StatusAddress: *statusAddr,
		ExitOnError:   *exitOnError,
		ErrorPercent:  *errorPercent,
		Timeout:       *timeout,
		StrictAck:     *strictAck,
		ServerAddress: *serverAddr,
		FilePath:      *filePath,
		OutputDir:     *outputDir,
		LossPercent:   *lossPercent,
		ChunkSize:     *chunkSize,
		Seed:          *seed,
		Digest:        *digest,
		TTL:           *ttl,
		TOS:           *tos,
		ShowProgress:  *showProgress,
		Verbose:       *verbose,
		LogDir:        *logDir,
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	config.Normalize()

	return config, nil
}

// RandomSeed returns the configured seed, or a clock based one when unset
func (c *Config) RandomSeed() int64 {
	if c.Seed != 0 {
		return c.Seed
	}
	return time.Now().UnixNano()
}

// String returns a string representation of the config for logging
func (c *Config) String() string {
	mode := "Client"
	if c.IsServer {
		mode = "Server"
	}

	return fmt.Sprintf("Config{Mode: %s, ChunkSize: %d, Timeout: %s, LossPercent: %g, ErrorPercent: %g, StrictAck: %v}",
		mode, c.ChunkSize, c.Timeout, c.LossPercent, c.ErrorPercent, c.StrictAck)
}
