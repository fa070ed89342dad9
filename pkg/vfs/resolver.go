package vfs

import (
	"strings"

	"github.com/tinydisk/vdisk/pkg/vdd"
)

// splitFirst splits path on the first '/', mirroring string::find/substr in
// original_source/fs.cxx token-at-a-time rather than path/filepath, which
// would silently collapse empty components ("//", a trailing "/") instead
// of rejecting them.
func splitFirst(path string) (token, rest string, more bool) {
	idx := strings.IndexByte(path, '/')
	if idx < 0 {
		return path, "", false
	}
	return path[:idx], path[idx+1:], true
}

// lookupChild resolves name inside the directory identified by
// parentInodeNum, mirroring getSubDirInodeNum in original_source/fs.cxx. It
// returns notFound (not an error) when parentInodeNum names a directory
// that simply has no such entry.
func (fs *FileSystem) lookupChild(parentInodeNum int, name string) (int, error) {
	if name == "" {
		return 0, ErrInvalidPath
	}
	parentInode, err := fs.driver.GetInode(parentInodeNum)
	if err != nil {
		return 0, ErrInvalidPath
	}
	if parentInode.Flags != vdd.FlagDirectory {
		return 0, ErrInvalidPath
	}
	buf := make([]byte, vdd.BlockSize)
	if err := fs.driver.ReadBlock(buf, int(parentInode.Direct[0])); err != nil {
		return 0, ErrInvalidPath
	}
	dir, err := vdd.DecodeDirBlock(buf)
	if err != nil {
		return 0, ErrInvalidPath
	}
	if ino := dir.Lookup(name); ino != 0 {
		return ino, nil
	}
	return notFound, nil
}

// resolve walks an absolute path from the root directory one component at a
// time, returning the target's inode number (or notFound) and the inode
// number of its containing directory. It mirrors getInode in
// original_source/fs.cxx: an empty component anywhere in the path (a
// trailing slash, a doubled slash, or the root path "/" itself, which has
// no name of its own) is rejected as ErrInvalidPath rather than resolved.
// A missing intermediate directory is also ErrInvalidPath, since the final
// component then has no containing directory.
func (fs *FileSystem) resolve(path string) (inodeNum, parentInodeNum int, err error) {
	if path == "" || path[0] != '/' {
		return 0, 0, ErrInvalidPath
	}

	rest := path[1:]
	for _, component := range strings.Split(rest, "/") {
		if component == "" {
			return 0, 0, ErrInvalidPath
		}
	}
	parent := vdd.RootInode

	token, next, more := splitFirst(rest)
	inode, err := fs.lookupChild(parent, token)
	if err != nil {
		return 0, 0, err
	}

	for more && inode != notFound {
		rest = next
		parent = inode
		token, next, more = splitFirst(rest)
		inode, err = fs.lookupChild(parent, token)
		if err != nil {
			return 0, 0, err
		}
	}
	if more {
		return 0, 0, ErrInvalidPath
	}

	return inode, parent, nil
}

// basename returns the final component of an already-validated path (one
// that resolve has accepted), for use as the stored directory entry name —
// directory entries hold only the basename, never the full input path.
func basename(path string) string {
	idx := strings.LastIndexByte(path, '/')
	return path[idx+1:]
}
