package vfs

import (
	"fmt"

	"github.com/tinydisk/vdisk/pkg/vdd"
)

// Block-index boundaries of the three addressing regions, mirroring
// original_source/fs.cxx's writeBytesToDisk/readBytesFromDisk dispatch: the
// first 10 logical blocks are direct, the next 256 live behind the single
// indirect block, and the remaining 256*256 live behind the double
// indirect block.
const (
	directBlocks         = 10
	singleIndirectBlocks = vdd.BlockSize / 2 // 256 int16 pointers per block
	singleIndirectEnd    = directBlocks + singleIndirectBlocks
	doubleIndirectBlocks = singleIndirectBlocks * singleIndirectBlocks
)

// writeBytesToDisk writes the n bytes of data at byteOffset within the
// block identified by *blockNum, allocating the block first if it is not
// yet backed by one. It is grounded on writeBytesToDisk in
// original_source/fs.cxx, taking a pointer to the caller's block-pointer
// field exactly as the original takes it by reference.
func (fs *FileSystem) writeBytesToDisk(data []byte, byteOffset int, blockNum *int16) error {
	n := len(data)
	if byteOffset+n > vdd.BlockSize {
		return ErrOutOfRange
	}

	if n < vdd.BlockSize {
		block := make([]byte, vdd.BlockSize)
		allocate := *blockNum == vdd.NilBlock
		if allocate {
			b := fs.driver.GetFreeBlock()
			if b == -1 {
				return ErrNoSpace
			}
			*blockNum = int16(b)
		} else if err := fs.driver.ReadBlock(block, int(*blockNum)); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		copy(block[byteOffset:], data)
		if allocate {
			if err := fs.driver.WriteBlock(block, int(*blockNum)); err != nil {
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
		} else if err := fs.driver.UpdateBlock(block, int(*blockNum)); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		return nil
	}

	if *blockNum == vdd.NilBlock {
		b := fs.driver.GetFreeBlock()
		if b == -1 {
			return ErrNoSpace
		}
		*blockNum = int16(b)
		if err := fs.driver.WriteBlock(data, int(*blockNum)); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		return nil
	}
	if err := fs.driver.UpdateBlock(data, int(*blockNum)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// writeThroughSingleIndirect writes through one level of indirection,
// allocating the indirect block itself if needed. Grounded on
// writeThroughSingleIndirect in original_source/fs.cxx.
func (fs *FileSystem) writeThroughSingleIndirect(data []byte, byteOffset int, singleIndirect *int16, index int) error {
	var indirect vdd.IndirectBlock
	allocate := *singleIndirect == vdd.NilBlock

	if allocate {
		b := fs.driver.GetFreeBlock()
		if b == -1 {
			return ErrNoSpace
		}
		indirect = vdd.NewIndirectBlock()
		if err := fs.writeBytesToDisk(data, byteOffset, &indirect.Pointers[index]); err != nil {
			return err
		}
		*singleIndirect = int16(b)
		if err := fs.driver.WriteBlock(indirect.Bytes(), int(*singleIndirect)); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		return nil
	}

	buf := make([]byte, vdd.BlockSize)
	if err := fs.driver.ReadBlock(buf, int(*singleIndirect)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	var err error
	indirect, err = vdd.DecodeIndirectBlock(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := fs.writeBytesToDisk(data, byteOffset, &indirect.Pointers[index]); err != nil {
		return err
	}
	if err := fs.driver.UpdateBlock(indirect.Bytes(), int(*singleIndirect)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// writeThroughDoubleIndirect writes through two levels of indirection. The
// recursive writeThroughSingleIndirect call mutates the in-memory double
// indirect block's child pointer before this function persists the parent
// block, so the freshly-allocated grandchild pointer is never lost to a
// stale read-modify-write — the ordering spec.md calls out explicitly,
// grounded on writeThroughDoubleIndirect in original_source/fs.cxx.
func (fs *FileSystem) writeThroughDoubleIndirect(data []byte, byteOffset, index int) error {
	allocate := fs.openInode.DoubleIndirect == vdd.NilBlock
	var doubleIndirect vdd.IndirectBlock

	if allocate {
		b := fs.driver.GetFreeBlock()
		if b == -1 {
			return ErrNoSpace
		}
		doubleIndirect = vdd.NewIndirectBlock()
		if err := fs.writeThroughSingleIndirect(data, byteOffset, &doubleIndirect.Pointers[index/singleIndirectBlocks], index%singleIndirectBlocks); err != nil {
			return err
		}
		fs.openInode.DoubleIndirect = int16(b)
		if err := fs.driver.WriteBlock(doubleIndirect.Bytes(), int(fs.openInode.DoubleIndirect)); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		return nil
	}

	buf := make([]byte, vdd.BlockSize)
	if err := fs.driver.ReadBlock(buf, int(fs.openInode.DoubleIndirect)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	var err error
	doubleIndirect, err = vdd.DecodeIndirectBlock(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := fs.writeThroughSingleIndirect(data, byteOffset, &doubleIndirect.Pointers[index/singleIndirectBlocks], index%singleIndirectBlocks); err != nil {
		return err
	}
	if err := fs.driver.UpdateBlock(doubleIndirect.Bytes(), int(fs.openInode.DoubleIndirect)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// writeBlock dispatches a single logical block's worth of write data to the
// direct, single-indirect, or double-indirect region of the open inode.
func (fs *FileSystem) writeBlock(data []byte, blockIdx, byteOffset int) error {
	switch {
	case blockIdx < directBlocks:
		return fs.writeBytesToDisk(data, byteOffset, &fs.openInode.Direct[blockIdx])
	case blockIdx < singleIndirectEnd:
		return fs.writeThroughSingleIndirect(data, byteOffset, &fs.openInode.SingleIndirect, blockIdx-directBlocks)
	case blockIdx < singleIndirectEnd+doubleIndirectBlocks:
		return fs.writeThroughDoubleIndirect(data, byteOffset, blockIdx-singleIndirectEnd)
	default:
		return ErrOutOfRange
	}
}

// readBytesFromDisk reads n bytes at byteOffset from the block identified
// by blockNum. A NilBlock pointer means the region was never written
// (there are no sparse holes to fabricate), so it fails with ErrOutOfRange.
func (fs *FileSystem) readBytesFromDisk(dst []byte, byteOffset int, blockNum int16) error {
	if blockNum == vdd.NilBlock {
		return ErrOutOfRange
	}
	n := len(dst)
	if byteOffset+n > vdd.BlockSize {
		return ErrOutOfRange
	}
	if n < vdd.BlockSize {
		block := make([]byte, vdd.BlockSize)
		if err := fs.driver.ReadBlock(block, int(blockNum)); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		copy(dst, block[byteOffset:byteOffset+n])
		return nil
	}
	if err := fs.driver.ReadBlock(dst, int(blockNum)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (fs *FileSystem) readThroughSingleIndirect(dst []byte, byteOffset int, singleIndirect int16, index int) error {
	if singleIndirect == vdd.NilBlock {
		return ErrOutOfRange
	}
	buf := make([]byte, vdd.BlockSize)
	if err := fs.driver.ReadBlock(buf, int(singleIndirect)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	indirect, err := vdd.DecodeIndirectBlock(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return fs.readBytesFromDisk(dst, byteOffset, indirect.Pointers[index])
}

func (fs *FileSystem) readThroughDoubleIndirect(dst []byte, byteOffset, index int) error {
	if fs.openInode.DoubleIndirect == vdd.NilBlock {
		return ErrOutOfRange
	}
	buf := make([]byte, vdd.BlockSize)
	if err := fs.driver.ReadBlock(buf, int(fs.openInode.DoubleIndirect)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	doubleIndirect, err := vdd.DecodeIndirectBlock(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return fs.readThroughSingleIndirect(dst, byteOffset, doubleIndirect.Pointers[index/singleIndirectBlocks], index%singleIndirectBlocks)
}

// readBlockAt dispatches a single logical block's worth of read data from
// the direct, single-indirect, or double-indirect region of the open inode.
func (fs *FileSystem) readBlockAt(dst []byte, blockIdx, byteOffset int) error {
	switch {
	case blockIdx < directBlocks:
		return fs.readBytesFromDisk(dst, byteOffset, fs.openInode.Direct[blockIdx])
	case blockIdx < singleIndirectEnd:
		return fs.readThroughSingleIndirect(dst, byteOffset, fs.openInode.SingleIndirect, blockIdx-directBlocks)
	case blockIdx < singleIndirectEnd+doubleIndirectBlocks:
		return fs.readThroughDoubleIndirect(dst, byteOffset, blockIdx-singleIndirectEnd)
	default:
		return ErrOutOfRange
	}
}

// freeSingleIndirect releases every data block a single indirect block
// points to, then the indirect block itself. Grounded on freeSingleIndirect
// in original_source/fs.cxx.
func (fs *FileSystem) freeSingleIndirect(singleIndirect int16) error {
	if singleIndirect == vdd.NilBlock {
		return nil
	}
	buf := make([]byte, vdd.BlockSize)
	if err := fs.driver.ReadBlock(buf, int(singleIndirect)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	indirect, err := vdd.DecodeIndirectBlock(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	for _, p := range indirect.Pointers {
		if p != vdd.NilBlock {
			if err := fs.driver.FreeBlock(int(p)); err != nil {
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
		}
	}
	if err := fs.driver.FreeBlock(int(singleIndirect)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}
