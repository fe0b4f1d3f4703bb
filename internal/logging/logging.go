package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"arqcopier/internal/config"
	"arqcopier/internal/errors"
	"arqcopier/internal/filesystem"
)

// SetupLogger initializes structured logging with console and, when logDir
// is set, file output
func SetupLogger(logDir string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stdout
	if logDir != "" {
		// Create logs directory if it doesn't exist
		if err := filesystem.EnsureDirectoryExists(logDir); err != nil {
			return err
		}

		logFileName := filepath.Join(logDir,
			"arqcopier_"+time.Now().Format("20060102_150405")+".log")

		logFile, err := os.Create(logFileName)
		if err != nil {
			// Continue with console logging only
			slog.Warn("Failed to create log file, using console only", "error", err)
		} else {
			out = io.MultiWriter(os.Stdout, logFile)
		}
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: false,
	}

	// Use text handler for better console readability
	handler := slog.NewTextHandler(out, opts)
	slog.SetDefault(slog.New(handler))

	slog.Info("Logging initialized", "session_id", time.Now().Format("20060102_150405"), "level", level.String())
	return nil
}

// LogConfig logs the current configuration
func LogConfig(cfg *config.Config) {
	mode := "Client"
	if cfg.IsServer {
		mode = "Server"
	}

	slog.Info("Configuration loaded",
		"mode", mode,
		"chunk_size", cfg.ChunkSize,
		"digest", cfg.Digest,
		"verbose", cfg.Verbose)

	if cfg.IsServer {
		slog.Info("Server configuration",
			"listen_address", cfg.ListenAddress,
			"root_dir", cfg.RootDir,
			"timeout", cfg.Timeout.String(),
			"error_percent", cfg.ErrorPercent,
			"strict_ack", cfg.StrictAck,
			"status_address", cfg.StatusAddress)
	} else {
		slog.Info("Client configuration",
			"server_address", cfg.ServerAddress,
			"file", cfg.FilePath,
			"output_dir", cfg.OutputDir,
			"loss_percent", cfg.LossPercent)
	}
}

// LogError logs an error with appropriate context
func LogError(err error, context string) {
	switch e := err.(type) {
	case *errors.NetworkError:
		slog.Error("Network error",
			"context", context,
			"operation", e.Op,
			"address", e.Addr,
			"error", e.Err,
			"error_type", "network")
	case *errors.FileSystemError:
		slog.Error("File system error",
			"context", context,
			"operation", e.Op,
			"path", e.Path,
			"error", e.Err,
			"error_type", "filesystem")
	case *errors.ProtocolError:
		slog.Error("Protocol error",
			"context", context,
			"operation", e.Op,
			"message", e.Message,
			"error_type", "protocol")
	case *errors.TimeoutError:
		slog.Error("Timeout",
			"context", context,
			"operation", e.Op,
			"timeout", e.Timeout.String(),
			"error_type", "timeout")
	case *errors.ValidationError:
		slog.Error("Validation error",
			"context", context,
			"field", e.Field,
			"message", e.Message,
			"error_type", "validation")
	default:
		slog.Error("Unhandled error",
			"context", context,
			"error", err,
			"error_type", "unknown")
	}
}

// LogTransferProgress logs transfer progress information. total is 0 when
// the receiving side does not know the file size.
func LogTransferProgress(filename string, transferred, total int64, rateKB float64) {
	if total <= 0 {
		slog.Info("Transfer progress",
			"file", filename,
			"transferred_bytes", transferred,
			"transfer_rate_kbps", rateKB)
		return
	}
	slog.Info("Transfer progress",
		"file", filename,
		"transferred_bytes", transferred,
		"total_bytes", total,
		"percent_complete", float64(transferred)/float64(total)*100,
		"transfer_rate_kbps", rateKB)
}

// LogSessionStart logs the start of a transfer session
func LogSessionStart(mode, filename, peer string, totalSize int64, chunkSize int) {
	attrs := []any{
		"mode", mode,
		"file", filename,
		"peer", peer,
		"chunk_size", chunkSize,
		"session_start", time.Now().Format("15:04:05"),
	}
	if totalSize >= 0 {
		// +1 accounts for the short frame that closes every transfer
		attrs = append(attrs, "file_size_bytes", totalSize, "expected_frames", totalSize/int64(chunkSize)+1)
	}
	slog.Info("Transfer session started", attrs...)
}

// LogSessionEnd logs the end of a transfer session
func LogSessionEnd(success bool, totalBytes int64, duration time.Duration) {
	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}

	var avgRate float64
	if duration > 0 {
		avgRate = float64(totalBytes) / 1024 / duration.Seconds()
	}
	slog.Info("Transfer session ended",
		"status", status,
		"total_bytes_transferred", totalBytes,
		"session_duration_ms", duration.Milliseconds(),
		"average_throughput_kbps", avgRate,
		"session_end", time.Now().Format("15:04:05"))
}

// LogDigest logs the content digest of a transferred file
func LogDigest(role, path, algorithm, digest string) {
	slog.Info("File digest",
		"role", role,
		"file", filepath.Base(path),
		"algorithm", algorithm,
		"digest", digest)
}
