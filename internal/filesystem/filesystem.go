package filesystem

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"arqcopier/internal/config"
	"arqcopier/internal/errors"
)

// HashAlgorithm names a digest used to compare source and destination
type HashAlgorithm string

const (
	HashNone    HashAlgorithm = "none"
	HashMD5     HashAlgorithm = "md5"
	HashSHA256  HashAlgorithm = "sha256"
	HashBLAKE2b HashAlgorithm = "blake2b"
)

// FileInfo represents information about a file to be transferred
type FileInfo struct {
	Name     string
	Size     int64
	Path     string
	IsDir    bool
	Modified time.Time
}

// ValidateFilePath checks if a file path is safe and valid
func ValidateFilePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.NewValidationError("file_path", path, "path is empty")
	}

	// Clean the path to prevent directory traversal
	cleanPath := filepath.Clean(path)

	// Only a leading ".." element climbs out; "report..v2.txt" is a plain name
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return errors.NewValidationError("file_path", path, "path contains directory traversal")
	}

	return nil
}

// ResolveUnderRoot maps a requested name onto a path inside root. Absolute
// names and names escaping root are rejected.
func ResolveUnderRoot(root, name string) (string, error) {
	if err := ValidateFilePath(name); err != nil {
		return "", err
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", errors.NewValidationError("file_path", name, "absolute paths are not served")
	}
	if !filepath.IsLocal(name) {
		return "", errors.NewValidationError("file_path", name, "path escapes the served root")
	}
	return filepath.Join(root, filepath.Clean(name)), nil
}

// FileExists reports whether path names an existing regular file
func FileExists(path string) bool {
	stat, err := os.Stat(path)
	if err != nil {
		slog.Debug("File does not exist", "path", path)
		return false
	}
	if !stat.Mode().IsRegular() {
		slog.Debug("Not a regular file", "path", path)
		return false
	}
	return true
}

// GetFileInfo returns information about a file
func GetFileInfo(path string) (*FileInfo, error) {
	if err := ValidateFilePath(path); err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewFileSystemError("stat", path, err)
	}

	return &FileInfo{
		Name:     stat.Name(),
		Size:     stat.Size(),
		Path:     path,
		IsDir:    stat.IsDir(),
		Modified: stat.ModTime(),
	}, nil
}

// OpenSource opens a file to be sent
func OpenSource(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.NewFileSystemError("open_source", path, err)
	}
	return file, nil
}

// CreateDestination creates the file a transfer writes into. An existing
// file is never overwritten.
func CreateDestination(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, config.OutputPerms)
	if err != nil {
		return nil, errors.NewFileSystemError("create_destination", path, err)
	}
	return file, nil
}

// EnsureDirectoryExists creates a directory if it doesn't exist
func EnsureDirectoryExists(dir string) error {
	if err := ValidateFilePath(dir); err != nil {
		return err
	}

	if err := os.MkdirAll(dir, config.LogDirPerms); err != nil {
		return errors.NewFileSystemError("mkdir", dir, err)
	}

	return nil
}

// newHash returns the hash for an algorithm
func newHash(algorithm HashAlgorithm) (hash.Hash, error) {
	switch algorithm {
	case HashMD5:
		return md5.New(), nil
	case HashSHA256:
		return sha256.New(), nil
	case HashBLAKE2b:
		return blake2b.New256(nil)
	default:
		return nil, errors.NewValidationError("digest", algorithm, "unsupported digest algorithm")
	}
}

// CalculateFileHash calculates the digest of a file from its start
func CalculateFileHash(file *os.File, algorithm HashAlgorithm) (string, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return "", err
	}

	// Reset file position
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", errors.NewFileSystemError("seek", file.Name(), err)
	}

	buffer := make([]byte, config.HashBufferSize)
	if _, err := io.CopyBuffer(h, file, buffer); err != nil {
		return "", errors.NewFileSystemError("read_hash", file.Name(), err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile opens path and returns its digest
func HashFile(path string, algorithm HashAlgorithm) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", errors.NewFileSystemError("open_hash", path, err)
	}
	defer file.Close()

	digest, err := CalculateFileHash(file, algorithm)
	if err != nil {
		return "", fmt.Errorf("digest of %s: %w", filepath.Base(path), err)
	}
	return digest, nil
}
