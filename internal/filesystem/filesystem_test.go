package filesystem

import (
	"os"
	"path/filepath"
	"testing"

	"arqcopier/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDirectoryExists(t *testing.T) {
	testDir := filepath.Join(t.TempDir(), "arq_test_dir")

	// Test creating new directory
	err := EnsureDirectoryExists(testDir)
	assert.NoError(t, err)

	// Verify directory exists
	info, err := os.Stat(testDir)
	assert.NoError(t, err)
	assert.True(t, info.IsDir())

	// Test with existing directory
	err = EnsureDirectoryExists(testDir)
	assert.NoError(t, err)
}

func TestGetFileInfo(t *testing.T) {
	// Create temporary file
	tmpFile, err := os.CreateTemp("", "arq_test_*.txt")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	// Write test content
	content := "test content for file info"
	_, err = tmpFile.WriteString(content)
	require.NoError(t, err)
	tmpFile.Close()

	// Test getting file info
	info, err := GetFileInfo(tmpFile.Name())
	assert.NoError(t, err)
	assert.False(t, info.IsDir)
	assert.Equal(t, int64(len(content)), info.Size)
	assert.NotZero(t, info.Modified)

	// Test with non-existent file
	_, err = GetFileInfo("non_existent_file.txt")
	assert.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFileSystem)
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	assert.True(t, FileExists(path))
	assert.False(t, FileExists(filepath.Join(dir, "absent.txt")))
	assert.False(t, FileExists(dir), "directories are not served")
}

func TestValidateFilePath(t *testing.T) {
	// Test valid paths
	assert.NoError(t, ValidateFilePath("test.txt"))
	assert.NoError(t, ValidateFilePath("dir/test.txt"))
	assert.NoError(t, ValidateFilePath("report..v2.txt"))
	assert.NoError(t, ValidateFilePath("dir/..hidden"))

	// Test invalid paths with directory traversal
	// These still start with a ".." element after filepath.Clean()
	assert.Error(t, ValidateFilePath("../test.txt"))
	assert.Error(t, ValidateFilePath("dir/../../test.txt"))
	assert.Error(t, ValidateFilePath("  "))
}

func TestResolveUnderRoot(t *testing.T) {
	path, err := ResolveUnderRoot("/srv/files", "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/srv/files", "docs", "a.txt"), path)

	path, err = ResolveUnderRoot("/srv/files", "report..v2.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/srv/files", "report..v2.txt"), path)

	_, err = ResolveUnderRoot("/srv/files", "docs/../../etc/passwd")
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = ResolveUnderRoot("/srv/files", "../etc/passwd")
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = ResolveUnderRoot("/srv/files", "/etc/passwd")
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestCreateDestinationRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")

	f, err := CreateDestination(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = CreateDestination(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFileSystem)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestOpenSourceMissing(t *testing.T) {
	_, err := OpenSource(filepath.Join(t.TempDir(), "gone.bin"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFileSystem)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
