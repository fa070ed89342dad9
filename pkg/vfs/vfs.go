// Package vfs implements the directory/file layer of the miniature virtual
// filesystem: indirect-pointer addressing, directory entries, path
// resolution, and the single-open-file session, all built on top of
// pkg/vdd's disk backend and allocator.
package vfs

import (
	"fmt"
	"os"

	"github.com/tinydisk/vdisk/pkg/vdd"
)

// notFound is the internal sentinel returned by resolve/lookupChild for a
// well-formed path whose final component does not exist. It is distinct
// from the error return, which is reserved for malformed paths and I/O
// failures.
const notFound = -2

// FileSystem wraps a *vdd.Driver and tracks the state of the single file
// that may be open at a time, mirroring the C++ FileSystem class wrapping a
// VDiskDriver member.
type FileSystem struct {
	driver *vdd.Driver

	fileOpen     bool
	openInodeNum int
	openInode    vdd.Inode
	readHead     int
	writeHead    int
}

// New bootstraps a filesystem backed by the file at path: if no backing
// file exists yet it is formatted fresh, then mounted. A backing file that
// exists but fails to mount (bad magic, truncated) surfaces as ErrIO.
func New(path string) (*FileSystem, error) {
	driver := vdd.New(path)

	_, statErr := os.Stat(path)
	switch {
	case os.IsNotExist(statErr):
		if err := driver.Format(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
	case statErr != nil:
		return nil, fmt.Errorf("%w: %v", ErrIO, statErr)
	}

	if err := driver.Mount(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	return &FileSystem{driver: driver}, nil
}

func (fs *FileSystem) readDir(inodeNum int) (vdd.Inode, vdd.DirBlock, error) {
	in, err := fs.driver.GetInode(inodeNum)
	if err != nil {
		return vdd.Inode{}, vdd.DirBlock{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	buf := make([]byte, vdd.BlockSize)
	if err := fs.driver.ReadBlock(buf, int(in.Direct[0])); err != nil {
		return vdd.Inode{}, vdd.DirBlock{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	dir, err := vdd.DecodeDirBlock(buf)
	if err != nil {
		return vdd.Inode{}, vdd.DirBlock{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return in, dir, nil
}
