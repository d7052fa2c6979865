package adapter

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystem defines an interface for file system operations to enable mocking
//
//go:generate mockgen -source=filesystem.go -destination=../mocks/filesystem.go -package=mocks -mock_names=FileSystem=MockFileSystem,File=MockFile
type FileSystem interface {
	// Create creates or truncates the named file
	Create(name string) (File, error)

	// Open opens the named file for reading
	Open(name string) (io.ReadCloser, error)

	// Remove removes the named file or directory
	Remove(name string) error

	// Rename atomically moves a file into place
	Rename(oldpath, newpath string) error

	// MkdirAll creates a directory path along with any missing parents
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info for the named file
	Stat(name string) (os.FileInfo, error)

	// WalkDir walks the file tree rooted at root
	WalkDir(root string, fn fs.WalkDirFunc) error
}

// File defines an interface for file operations
type File interface {
	io.Writer
	io.Closer
}

// RealFileSystem implements FileSystem using the standard os package
type RealFileSystem struct{}

// NewFileSystem creates a new real file system
func NewFileSystem() FileSystem {
	return &RealFileSystem{}
}

// Create creates or truncates the named file
func (f *RealFileSystem) Create(name string) (File, error) {
	return os.Create(name) //nolint:gosec,G304
}

// Open opens the named file for reading
func (f *RealFileSystem) Open(name string) (io.ReadCloser, error) {
	return os.Open(name) //nolint:gosec,G304
}

// Remove removes the named file or directory
func (f *RealFileSystem) Remove(name string) error {
	return os.Remove(name)
}

// Rename atomically moves a file into place
func (f *RealFileSystem) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// MkdirAll creates a directory path along with any missing parents
func (f *RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Stat returns file info for the named file
func (f *RealFileSystem) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

// WalkDir walks the file tree rooted at root
func (f *RealFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	return filepath.WalkDir(root, fn)
}
