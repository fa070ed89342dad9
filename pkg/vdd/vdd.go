// Package vdd implements the disk backend and allocator for a miniature
// inode/block virtual filesystem backed by a single fixed-size file on the
// host ("the virtual disk"). It owns the on-disk format, the free-block
// bitmap, the inode table, and the in-memory metadata cache that must
// always agree with what is written to the backing file.
package vdd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tinydisk/vdisk/pkg/vio"
)

// Disk geometry. Part of the on-disk contract: changing any of these
// changes the format of every vdisk file ever written.
const (
	BlockSize  = 512
	NumBlocks  = 4096
	NumInodes  = 128
	MetaBlocks = 10
	InodeSize  = 32
	Magic      = 7428

	// RootInode is the sentinel inode number for the root directory. Its
	// inode lives embedded in the superblock rather than the inode table.
	RootInode = -1

	// NilBlock marks an unallocated direct/indirect pointer.
	NilBlock = -1

	// RootDirBlock is the fixed block index of the root directory's data.
	RootDirBlock = MetaBlocks
)

// Abstract failure kinds (spec.md §7). The public surface never exposes
// more than "operation failed"; these exist so callers and tests can use
// errors.Is to distinguish failure modes without the caller depending on
// disk-layout details.
var (
	ErrIO               = errors.New("vdd: backing file I/O failure")
	ErrOutOfRange       = errors.New("vdd: block or inode number out of range")
	ErrNotAllocated     = errors.New("vdd: attempted operation on a free block or inode")
	ErrAlreadyAllocated = errors.New("vdd: attempted allocating write to a block or inode already in use")
	ErrAlreadyFree      = errors.New("vdd: attempted to free a block or inode that is already free")
	ErrNoSpace          = errors.New("vdd: no free block or inode available")
	ErrBadMagic         = errors.New("vdd: superblock magic number mismatch")
)

// Inode is the packed 32-byte on-disk inode record (spec.md §3).
type Inode struct {
	Size           int32
	Flags          int32
	Direct         [10]int16
	SingleIndirect int16
	DoubleIndirect int16
}

// Inode flag values.
const (
	FlagRegular   = 0
	FlagDirectory = 1
)

// NewDirInode returns a freshly initialized directory inode with no data
// block assigned yet (callers fill in Direct[0] once the block is known).
func NewDirInode() Inode {
	in := Inode{Flags: FlagDirectory, Size: BlockSize}
	in.Direct = [10]int16{-1, -1, -1, -1, -1, -1, -1, -1, -1, -1}
	in.SingleIndirect = -1
	in.DoubleIndirect = -1
	return in
}

// NewFileInode returns a freshly initialized, empty regular-file inode.
func NewFileInode() Inode {
	in := Inode{Flags: FlagRegular}
	in.Direct = [10]int16{-1, -1, -1, -1, -1, -1, -1, -1, -1, -1}
	in.SingleIndirect = -1
	in.DoubleIndirect = -1
	return in
}

// DirEntry is one 32-byte slot of a directory block. Inode == 0 means the
// slot is free. The root directory's "." and ".." entries store -1 (the
// signed-byte encoding of RootInode) rather than a table index.
type DirEntry struct {
	Inode int8
	Name  [31]byte
}

func makeDirEntry(inode int, name string) DirEntry {
	var e DirEntry
	e.Inode = int8(inode)
	copy(e.Name[:], name)
	return e
}

func (e DirEntry) name() string {
	n := 0
	for n < len(e.Name) && e.Name[n] != 0 {
		n++
	}
	return string(e.Name[:n])
}

// DirBlock is the fixed 16-entry directory data block (spec.md §3).
type DirBlock struct {
	Entries [16]DirEntry
}

// NewDirBlock builds the "." / ".." template for a freshly created
// directory whose own inode number is self and whose parent is parent.
func NewDirBlock(self, parent int) DirBlock {
	var b DirBlock
	b.Entries[0] = makeDirEntry(self, ".")
	b.Entries[1] = makeDirEntry(parent, "..")
	return b
}

// Lookup returns the inode number of the entry named name, or 0 if absent.
func (b *DirBlock) Lookup(name string) int {
	for _, e := range b.Entries {
		if e.Inode != 0 && e.name() == name {
			return int(e.Inode)
		}
	}
	return 0
}

// Insert installs a new entry in the first free slot, returning false if
// the directory is full.
func (b *DirBlock) Insert(inode int, name string) bool {
	for i := range b.Entries {
		if b.Entries[i].Inode == 0 {
			b.Entries[i] = makeDirEntry(inode, name)
			return true
		}
	}
	return false
}

// Remove clears the entry pointing at inode, returning false if not found.
func (b *DirBlock) Remove(inode int) bool {
	for i := range b.Entries {
		if int(b.Entries[i].Inode) == inode {
			b.Entries[i] = DirEntry{}
			return true
		}
	}
	return false
}

// IsEmpty reports whether every entry past "." and ".." (slots 2..15) is free.
func (b *DirBlock) IsEmpty() bool {
	for _, e := range b.Entries[2:] {
		if e.Inode != 0 {
			return false
		}
	}
	return true
}

// IndirectBlock is 256 block pointers (spec.md §3), used for both the
// single-indirect block and each child of the double-indirect block.
type IndirectBlock struct {
	Pointers [256]int16
}

// NewIndirectBlock returns an indirect block with every pointer unallocated.
func NewIndirectBlock() IndirectBlock {
	var b IndirectBlock
	for i := range b.Pointers {
		b.Pointers[i] = -1
	}
	return b
}

// Superblock is the packed block-0 record (spec.md §3). The root inode is
// embedded at the end, so its byte offset is always len(Superblock)-InodeSize.
type Superblock struct {
	Magic      int32
	NumBlocks  int32
	NumInodes  int32
	FreeInodes [NumInodes]byte
	Root       Inode
}

func encode(v interface{}) []byte {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		panic(err) // fixed-width struct encode cannot fail
	}
	return buf.Bytes()
}

func decode(data []byte, v interface{}) error {
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, v)
}

// DiskFileName is the filename of the backing file, resolved relative to
// the process working directory (spec.md §6).
const DiskFileName = "vdisk"

// Driver is the allocator and metadata cache (spec.md §4.2) layered over
// the raw disk backend (spec.md §4.1). It mirrors free-block and
// free-inode state in memory and keeps the backing file's bitmap and
// superblock free-inode vector consistent with that mirror (invariants
// I1 and I3).
type Driver struct {
	path string

	freeBlocks [NumBlocks]bool
	freeInodes [NumInodes + 1]bool // index 0 unused, inode 0 never valid
	clockHand  int
}

// New returns a Driver bound to the backing file at path. Call Format or
// Mount before using it.
func New(path string) *Driver {
	return &Driver{path: path}
}

// Path returns the backing file path the Driver was constructed with.
func (d *Driver) Path() string { return d.path }

func (d *Driver) open(flag int) (*os.File, error) {
	f, err := os.OpenFile(d.path, flag, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return f, nil
}

func ioFail(err error) error {
	return fmt.Errorf("%w: %v", ErrIO, err)
}

// Format initializes a fresh backing file: a default superblock (every
// inode free, root inode a directory pointing at block 10), a free-block
// bitmap with blocks 0..10 claimed, the root directory's "." / ".." data
// block at block 10, and zero-filled blocks for the remainder of the file.
func (d *Driver) Format() error {
	f, err := d.open(os.O_CREATE | os.O_TRUNC | os.O_RDWR)
	if err != nil {
		return err
	}
	defer f.Close()

	root := NewDirInode()
	root.Direct[0] = RootDirBlock
	super := Superblock{Magic: Magic, NumBlocks: NumBlocks, NumInodes: NumInodes, Root: root}
	for i := range super.FreeInodes {
		super.FreeInodes[i] = 1
	}
	if _, err := f.Write(padBlock(encode(super))); err != nil {
		return ioFail(err)
	}

	var bitmap [NumBlocks / 8]byte
	for i := range bitmap {
		bitmap[i] = 0xFF
	}
	for b := 0; b <= RootDirBlock; b++ {
		clearBit(bitmap[:], b)
	}
	if _, err := f.Write(padBlock(bitmap[:])); err != nil {
		return ioFail(err)
	}

	for b := 2; b < MetaBlocks; b++ {
		if _, err := io.CopyN(f, vio.Zeroes, BlockSize); err != nil {
			return ioFail(err)
		}
	}

	rootDir := NewDirBlock(RootInode, RootInode)
	if _, err := f.Write(padBlock(encode(rootDir))); err != nil {
		return ioFail(err)
	}

	for b := RootDirBlock + 1; b < NumBlocks; b++ {
		if _, err := io.CopyN(f, vio.Zeroes, BlockSize); err != nil {
			return ioFail(err)
		}
	}

	for i := range d.freeBlocks {
		d.freeBlocks[i] = i > RootDirBlock
	}
	for i := range d.freeInodes {
		d.freeInodes[i] = i >= 1
	}
	d.clockHand = 0

	return nil
}

// Mount loads the superblock and free-space metadata from an existing,
// already-formatted backing file. It fails with ErrBadMagic if the file
// does not carry this format's signature.
func (d *Driver) Mount() error {
	f, err := d.open(os.O_RDONLY)
	if err != nil {
		return err
	}
	defer f.Close()

	block := make([]byte, BlockSize)
	if _, err := f.Read(block); err != nil {
		return ioFail(err)
	}
	var super Superblock
	if err := decode(block, &super); err != nil {
		return ioFail(err)
	}
	if super.Magic != Magic {
		return ErrBadMagic
	}

	for i := 0; i < NumInodes; i++ {
		d.freeInodes[i+1] = super.FreeInodes[i] == 1
	}

	if _, err := f.Seek(BlockSize, 0); err != nil {
		return ioFail(err)
	}
	bitmap := make([]byte, BlockSize)
	if _, err := f.Read(bitmap); err != nil {
		return ioFail(err)
	}
	for b := 0; b < NumBlocks; b++ {
		d.freeBlocks[b] = bitSet(bitmap, b)
	}
	d.clockHand = 0

	return nil
}

func blockOffset(b int) int64 { return int64(b) * BlockSize }

func inodeOffset(i int) int64 { return 2*BlockSize + int64(i-1)*InodeSize }

func rootInodeOffset() int64 {
	return int64(len(encode(Superblock{}))) - InodeSize
}

func freeInodeByteOffset(i int) int64 {
	return rootInodeOffset() - NumInodes + int64(i-1)
}

// ReadBlock reads BlockSize bytes from block b into dst. It fails if b is
// currently marked free (InvariantViolation — reading unallocated storage).
func (d *Driver) ReadBlock(dst []byte, b int) error {
	if b < 0 || b >= NumBlocks {
		return ErrOutOfRange
	}
	if d.freeBlocks[b] {
		return ErrNotAllocated
	}
	f, err := d.open(os.O_RDONLY)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(blockOffset(b), 0); err != nil {
		return ioFail(err)
	}
	if _, err := f.Read(dst[:BlockSize]); err != nil {
		return ioFail(err)
	}
	return nil
}

// WriteBlock is an allocating write: it fails if b is not currently free,
// writes src, and clears the free bit both in memory and on disk.
func (d *Driver) WriteBlock(src []byte, b int) error {
	if b < 0 || b >= NumBlocks {
		return ErrOutOfRange
	}
	if !d.freeBlocks[b] {
		return ErrAlreadyAllocated
	}
	if err := d.rawWriteBlock(src, b); err != nil {
		return err
	}
	d.freeBlocks[b] = false
	return d.persistBlockFreeBit(b, false)
}

// UpdateBlock overwrites the contents of an already-allocated block.
func (d *Driver) UpdateBlock(src []byte, b int) error {
	if b < 0 || b >= NumBlocks {
		return ErrOutOfRange
	}
	if d.freeBlocks[b] {
		return ErrNotAllocated
	}
	return d.rawWriteBlock(src, b)
}

func (d *Driver) rawWriteBlock(src []byte, b int) error {
	f, err := d.open(os.O_RDWR)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(blockOffset(b), 0); err != nil {
		return ioFail(err)
	}
	if _, err := f.Write(src[:BlockSize]); err != nil {
		return ioFail(err)
	}
	return nil
}

// FreeBlock marks b free, failing if it is already free.
func (d *Driver) FreeBlock(b int) error {
	if b < 0 || b >= NumBlocks {
		return ErrOutOfRange
	}
	if d.freeBlocks[b] {
		return ErrAlreadyFree
	}
	d.freeBlocks[b] = true
	return d.persistBlockFreeBit(b, true)
}

func (d *Driver) persistBlockFreeBit(b int, free bool) error {
	f, err := d.open(os.O_RDWR)
	if err != nil {
		return err
	}
	defer f.Close()
	off := BlockSize + int64(b/8)
	if _, err := f.Seek(off, 0); err != nil {
		return ioFail(err)
	}
	var byt [1]byte
	if _, err := f.Read(byt[:]); err != nil {
		return ioFail(err)
	}
	bit := byte(1) << uint(7-b%8)
	if free {
		byt[0] |= bit
	} else {
		byt[0] &^= bit
	}
	if _, err := f.Seek(off, 0); err != nil {
		return ioFail(err)
	}
	if _, err := f.Write(byt[:]); err != nil {
		return ioFail(err)
	}
	return nil
}

// GetFreeBlock scans for a free block starting at the clock hand, within
// the non-meta region, and advances the hand one past whatever it finds.
// It returns -1 if the disk is full (spec.md's clock-hand policy, which
// spreads allocations instead of always recycling the lowest free block).
func (d *Driver) GetFreeBlock() int {
	span := NumBlocks - MetaBlocks
	for i := 0; i < span; i++ {
		b := MetaBlocks + d.clockHand
		d.clockHand = (d.clockHand + 1) % span
		if d.freeBlocks[b] {
			return b
		}
	}
	return -1
}

// GetInode reads inode number n. n == RootInode reads the root inode
// embedded in the superblock; any other out-of-range or free inode fails.
func (d *Driver) GetInode(n int) (Inode, error) {
	if n == RootInode {
		return d.getRootInode()
	}
	if n <= 0 || n > NumInodes {
		return Inode{}, ErrOutOfRange
	}
	if d.freeInodes[n] {
		return Inode{}, ErrNotAllocated
	}
	f, err := d.open(os.O_RDONLY)
	if err != nil {
		return Inode{}, err
	}
	defer f.Close()
	if _, err := f.Seek(inodeOffset(n), 0); err != nil {
		return Inode{}, ioFail(err)
	}
	buf := make([]byte, InodeSize)
	if _, err := f.Read(buf); err != nil {
		return Inode{}, ioFail(err)
	}
	var in Inode
	if err := decode(buf, &in); err != nil {
		return Inode{}, ioFail(err)
	}
	return in, nil
}

func (d *Driver) getRootInode() (Inode, error) {
	f, err := d.open(os.O_RDONLY)
	if err != nil {
		return Inode{}, err
	}
	defer f.Close()
	if _, err := f.Seek(rootInodeOffset(), 0); err != nil {
		return Inode{}, ioFail(err)
	}
	buf := make([]byte, InodeSize)
	if _, err := f.Read(buf); err != nil {
		return Inode{}, ioFail(err)
	}
	var in Inode
	if err := decode(buf, &in); err != nil {
		return Inode{}, ioFail(err)
	}
	return in, nil
}

func (d *Driver) setRootInode(in Inode) error {
	f, err := d.open(os.O_RDWR)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(rootInodeOffset(), 0); err != nil {
		return ioFail(err)
	}
	if _, err := f.Write(encode(in)); err != nil {
		return ioFail(err)
	}
	return nil
}

// SetInode is an allocating write: it fails if n is already allocated,
// writes the slot, and clears the free flag in memory and on disk.
func (d *Driver) SetInode(n int, in Inode) error {
	if n == RootInode {
		return d.setRootInode(in)
	}
	if n <= 0 || n > NumInodes {
		return ErrOutOfRange
	}
	if !d.freeInodes[n] {
		return ErrAlreadyAllocated
	}
	if err := d.rawWriteInode(n, in); err != nil {
		return err
	}
	d.freeInodes[n] = false
	return d.persistInodeFreeByte(n, 0)
}

// UpdateInode overwrites the contents of an already-allocated inode slot.
func (d *Driver) UpdateInode(n int, in Inode) error {
	if n == RootInode {
		return d.setRootInode(in)
	}
	if n <= 0 || n > NumInodes {
		return ErrOutOfRange
	}
	if d.freeInodes[n] {
		return ErrNotAllocated
	}
	return d.rawWriteInode(n, in)
}

func (d *Driver) rawWriteInode(n int, in Inode) error {
	f, err := d.open(os.O_RDWR)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(inodeOffset(n), 0); err != nil {
		return ioFail(err)
	}
	if _, err := f.Write(encode(in)); err != nil {
		return ioFail(err)
	}
	return nil
}

// FreeInode marks inode n free, failing if it is already free. Both the
// in-memory flag and the persisted superblock byte end up `1` (free),
// which is the consistent convention spec.md §9 calls for (the original
// source's freeInode inverted the on-disk write; this implementation
// shares persistInodeFreeByte with SetInode so the two can never drift).
func (d *Driver) FreeInode(n int) error {
	if n <= 0 || n > NumInodes {
		return ErrOutOfRange
	}
	if d.freeInodes[n] {
		return ErrAlreadyFree
	}
	d.freeInodes[n] = true
	return d.persistInodeFreeByte(n, 1)
}

func (d *Driver) persistInodeFreeByte(n int, v byte) error {
	f, err := d.open(os.O_RDWR)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(freeInodeByteOffset(n), 0); err != nil {
		return ioFail(err)
	}
	if _, err := f.Write([]byte{v}); err != nil {
		return ioFail(err)
	}
	return nil
}

// GetFreeInode linear-scans for the first free inode number, or -1 if the
// table is full.
func (d *Driver) GetFreeInode() int {
	for i := 1; i <= NumInodes; i++ {
		if d.freeInodes[i] {
			return i
		}
	}
	return -1
}

func clearBit(bitmap []byte, b int) {
	bitmap[b/8] &^= 1 << uint(7-b%8)
}

func bitSet(bitmap []byte, b int) bool {
	return bitmap[b/8]&(1<<uint(7-b%8)) != 0
}

// Bytes encodes a directory block to its fixed BlockSize on-disk form.
func (b DirBlock) Bytes() []byte { return padBlock(encode(b)) }

// DecodeDirBlock decodes a directory block previously produced by Bytes.
func DecodeDirBlock(buf []byte) (DirBlock, error) {
	var b DirBlock
	err := decode(buf, &b)
	return b, err
}

// Bytes encodes an indirect block to its fixed BlockSize on-disk form.
func (b IndirectBlock) Bytes() []byte { return padBlock(encode(b)) }

// DecodeIndirectBlock decodes an indirect block previously produced by Bytes.
func DecodeIndirectBlock(buf []byte) (IndirectBlock, error) {
	var b IndirectBlock
	err := decode(buf, &b)
	return b, err
}

func padBlock(b []byte) []byte {
	if len(b) >= BlockSize {
		return b[:BlockSize]
	}
	out := make([]byte, BlockSize)
	copy(out, b)
	return out
}
