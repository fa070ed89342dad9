package vfs

import (
	"fmt"

	"github.com/tinydisk/vdisk/pkg/vdd"
)

// Open makes path the single open file, creating it as an empty regular
// file if it does not yet exist. Fails with ErrConflictingState if a file
// is already open, and ErrWrongKind if path names a directory. Grounded on
// FileSystem::open in original_source/fs.cxx.
func (fs *FileSystem) Open(path string) error {
	if fs.fileOpen {
		return ErrConflictingState
	}

	inodeNum, parentNum, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if inodeNum == notFound {
		return fs.createFile(path, parentNum)
	}
	if inodeNum == vdd.RootInode {
		return ErrWrongKind
	}

	in, err := fs.driver.GetInode(inodeNum)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if in.Flags != vdd.FlagRegular {
		return ErrWrongKind
	}

	fs.openInodeNum = inodeNum
	fs.openInode = in
	fs.readHead = 0
	fs.writeHead = 0
	fs.fileOpen = true
	return nil
}

func (fs *FileSystem) createFile(path string, parentNum int) error {
	parentInode, parentDir, err := fs.readDir(parentNum)
	if err != nil {
		return err
	}

	newInodeNum := fs.driver.GetFreeInode()
	if newInodeNum == -1 {
		return ErrNoSpace
	}
	if !parentDir.Insert(newInodeNum, basename(path)) {
		return ErrNoSpace
	}

	newInode := vdd.NewFileInode()
	if err := fs.driver.SetInode(newInodeNum, newInode); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := fs.driver.UpdateBlock(parentDir.Bytes(), int(parentInode.Direct[0])); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	fs.openInodeNum = newInodeNum
	fs.openInode = newInode
	fs.readHead = 0
	fs.writeHead = 0
	fs.fileOpen = true
	return nil
}

// Close persists the open file's inode (its size may have grown) and
// releases the open-file slot.
func (fs *FileSystem) Close() error {
	if !fs.fileOpen {
		return ErrConflictingState
	}
	if err := fs.driver.UpdateInode(fs.openInodeNum, fs.openInode); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	fs.fileOpen = false
	return nil
}

// Seekw repositions the write cursor of the open file. n may not exceed the
// file's current size — writes always either overwrite in place or extend
// the file by appending from the current write cursor, there is no
// sparse-hole support.
func (fs *FileSystem) Seekw(n int) error {
	if !fs.fileOpen {
		return ErrConflictingState
	}
	if n < 0 || n > int(fs.openInode.Size) {
		return ErrOutOfRange
	}
	fs.writeHead = n
	return nil
}

// Seekr repositions the read cursor of the open file. n may not exceed the
// file's current size.
func (fs *FileSystem) Seekr(n int) error {
	if !fs.fileOpen {
		return ErrConflictingState
	}
	if n < 0 || n > int(fs.openInode.Size) {
		return ErrOutOfRange
	}
	fs.readHead = n
	return nil
}

// Write writes data to the open file starting at the write cursor,
// overwriting existing bytes in place and extending the file past its end,
// dispatching one logical block at a time so each call crosses direct,
// single-indirect, and double-indirect boundaries transparently. Byte
// counts per block use min(BlockSize-offset, remaining), the clearer
// formulation spec.md prefers over the original's subtraction arithmetic.
// Grounded on FileSystem::write in original_source/fs.cxx.
func (fs *FileSystem) Write(data []byte) error {
	if !fs.fileOpen {
		return ErrConflictingState
	}

	remaining := len(data)
	cursor := 0
	for remaining > 0 {
		blockIdx := fs.writeHead / vdd.BlockSize
		byteOffset := fs.writeHead % vdd.BlockSize
		n := vdd.BlockSize - byteOffset
		if n > remaining {
			n = remaining
		}

		if err := fs.writeBlock(data[cursor:cursor+n], blockIdx, byteOffset); err != nil {
			return err
		}

		fs.writeHead += n
		cursor += n
		remaining -= n
		if fs.writeHead > int(fs.openInode.Size) {
			fs.openInode.Size = int32(fs.writeHead)
		}
	}

	if err := fs.driver.UpdateInode(fs.openInodeNum, fs.openInode); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Read fills buf from the open file starting at the read cursor. Reading
// past the file's current size fails with ErrOutOfRange rather than
// returning a short read — there are no sparse holes to read back as
// zeroes. Grounded on FileSystem::read in original_source/fs.cxx.
func (fs *FileSystem) Read(buf []byte) error {
	if !fs.fileOpen {
		return ErrConflictingState
	}
	if fs.readHead+len(buf) > int(fs.openInode.Size) {
		return ErrOutOfRange
	}

	remaining := len(buf)
	cursor := 0
	for remaining > 0 {
		blockIdx := fs.readHead / vdd.BlockSize
		byteOffset := fs.readHead % vdd.BlockSize
		n := vdd.BlockSize - byteOffset
		if n > remaining {
			n = remaining
		}

		if err := fs.readBlockAt(buf[cursor:cursor+n], blockIdx, byteOffset); err != nil {
			return err
		}

		fs.readHead += n
		cursor += n
		remaining -= n
	}
	return nil
}

// GetOpenFileSize returns the current size of the open file, or -1 if no
// file is open.
func (fs *FileSystem) GetOpenFileSize() int {
	if !fs.fileOpen {
		return -1
	}
	return int(fs.openInode.Size)
}

// Remove deletes the regular file at path, releasing every block it owns
// (direct, single-indirect, and double-indirect) and its inode. Fails with
// ErrConflictingState if path names the currently open file, ErrWrongKind
// if it names a directory. Grounded on FileSystem::remove in
// original_source/fs.cxx.
func (fs *FileSystem) Remove(path string) error {
	inodeNum, parentNum, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if inodeNum == notFound {
		return ErrNotFound
	}
	if fs.fileOpen && fs.openInodeNum == inodeNum {
		return ErrConflictingState
	}

	childInode, err := fs.driver.GetInode(inodeNum)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if childInode.Flags != vdd.FlagRegular {
		return ErrWrongKind
	}

	for _, d := range childInode.Direct {
		if d != vdd.NilBlock {
			if err := fs.driver.FreeBlock(int(d)); err != nil {
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
		}
	}
	if err := fs.freeSingleIndirect(childInode.SingleIndirect); err != nil {
		return err
	}
	if childInode.DoubleIndirect != vdd.NilBlock {
		buf := make([]byte, vdd.BlockSize)
		if err := fs.driver.ReadBlock(buf, int(childInode.DoubleIndirect)); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		doubleIndirect, err := vdd.DecodeIndirectBlock(buf)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		for _, p := range doubleIndirect.Pointers {
			if err := fs.freeSingleIndirect(p); err != nil {
				return err
			}
		}
		if err := fs.driver.FreeBlock(int(childInode.DoubleIndirect)); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	parentInode, parentDir, err := fs.readDir(parentNum)
	if err != nil {
		return err
	}
	if !parentDir.Remove(inodeNum) {
		return ErrNotFound
	}
	if err := fs.driver.FreeInode(inodeNum); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := fs.driver.UpdateBlock(parentDir.Bytes(), int(parentInode.Direct[0])); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}
