package vfs

import (
	"fmt"

	"github.com/tinydisk/vdisk/pkg/vdd"
)

// Mkdir creates a new, empty directory at path. Fails with
// ErrAlreadyExists if path already names an entry, ErrNoSpace if the
// parent directory's 16 entry slots or the inode/block pools are
// exhausted. Grounded on FileSystem::mkdir in original_source/fs.cxx.
func (fs *FileSystem) Mkdir(path string) error {
	inodeNum, parentNum, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if inodeNum != notFound {
		return ErrAlreadyExists
	}

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

	newBlock := fs.driver.GetFreeBlock()
	if newBlock == -1 {
		return ErrNoSpace
	}
	newDirBlock := vdd.NewDirBlock(newInodeNum, parentNum)
	if err := fs.driver.WriteBlock(newDirBlock.Bytes(), newBlock); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	newInode := vdd.NewDirInode()
	newInode.Direct[0] = int16(newBlock)
	if err := fs.driver.SetInode(newInodeNum, newInode); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	if err := fs.driver.UpdateBlock(parentDir.Bytes(), int(parentInode.Direct[0])); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Rmdir removes an empty directory at path. Fails with ErrNotFound if path
// does not resolve, ErrWrongKind if it names a file, and ErrNotEmpty if it
// contains any entries other than "." and "..". Grounded on
// FileSystem::rmdir in original_source/fs.cxx.
func (fs *FileSystem) Rmdir(path string) error {
	inodeNum, parentNum, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if inodeNum == notFound || inodeNum == vdd.RootInode {
		return ErrNotFound
	}

	childInode, err := fs.driver.GetInode(inodeNum)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if childInode.Flags != vdd.FlagDirectory {
		return ErrWrongKind
	}

	buf := make([]byte, vdd.BlockSize)
	if err := fs.driver.ReadBlock(buf, int(childInode.Direct[0])); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	childDir, err := vdd.DecodeDirBlock(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if !childDir.IsEmpty() {
		return ErrNotEmpty
	}

	parentInode, parentDir, err := fs.readDir(parentNum)
	if err != nil {
		return err
	}
	if !parentDir.Remove(inodeNum) {
		return ErrNotFound
	}

	if err := fs.driver.FreeBlock(int(childInode.Direct[0])); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := fs.driver.FreeInode(inodeNum); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := fs.driver.UpdateBlock(parentDir.Bytes(), int(parentInode.Direct[0])); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}
