package vfs

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinydisk/vdisk/pkg/vdd"
)

// TestScenarioFormatOnFirstRun is spec scenario 1: a fresh vdisk is exactly
// one block per NumBlocks, carries the magic number, and the root
// directory's "." / ".." both point at inode -1.
func TestScenarioFormatOnFirstRun(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "vdisk")
	_, err := New(path)
	require.NoError(err)

	info, err := os.Stat(path)
	require.NoError(err)
	require.EqualValues(vdd.NumBlocks*vdd.BlockSize, info.Size())

	raw, err := ioutil.ReadFile(path)
	require.NoError(err)

	driver := vdd.New(path)
	require.NoError(driver.Mount())

	buf := make([]byte, vdd.BlockSize)
	require.NoError(driver.ReadBlock(buf, vdd.RootDirBlock))
	root, err := vdd.DecodeDirBlock(buf)
	require.NoError(err)
	require.Equal(-1, root.Lookup("."))
	require.Equal(-1, root.Lookup(".."))

	// First 4 bytes of the backing file decode to the magic number.
	magic := int32(raw[0]) | int32(raw[1])<<8 | int32(raw[2])<<16 | int32(raw[3])<<24
	require.EqualValues(vdd.Magic, magic)
}

// TestScenarioDirectoryNesting is spec scenario 2.
func TestScenarioDirectoryNesting(t *testing.T) {
	require := require.New(t)
	fs := newTestFS(t)

	require.NoError(fs.Mkdir("/a"))
	require.Error(fs.Mkdir("/a"))
	require.Error(fs.Mkdir("a"))
	require.NoError(fs.Mkdir("/a/b"))
}

// TestScenarioSmallFileRoundTrip is spec scenario 3.
func TestScenarioSmallFileRoundTrip(t *testing.T) {
	require := require.New(t)
	fs := newTestFS(t)

	require.NoError(fs.Mkdir("/a"))
	require.NoError(fs.Mkdir("/a/b"))
	require.NoError(fs.Open("/a/b/f"))

	line := "hello darkness my old friend\n"
	require.Len(line, 29)
	for i := 0; i < 10; i++ {
		require.NoError(fs.Write([]byte(line)))
	}
	require.Equal(290, fs.GetOpenFileSize())

	require.NoError(fs.Seekr(0))
	buf := make([]byte, 290)
	require.NoError(fs.Read(buf))
	require.Equal(strings.Repeat(line, 10), string(buf))

	require.NoError(fs.Close())
}

// TestScenarioLargeFileSpanningIndirects is spec scenario 4: 500 iterations
// of two 290-byte writes (290,000 bytes total, 567 blocks) crosses direct,
// single-indirect, and double-indirect regions.
func TestScenarioLargeFileSpanningIndirects(t *testing.T) {
	require := require.New(t)
	fs := newTestFS(t)

	require.NoError(fs.Mkdir("/a"))
	require.NoError(fs.Mkdir("/a/b"))
	require.NoError(fs.Open("/a/b/f"))

	chunk := make([]byte, 290)
	for i := range chunk {
		chunk[i] = byte(i % 251)
	}

	for i := 0; i < 500; i++ {
		require.NoError(fs.Write(chunk))
		require.NoError(fs.Write(chunk))
	}
	require.Equal(290000, fs.GetOpenFileSize())

	wantBlocks := (290000 + vdd.BlockSize - 1) / vdd.BlockSize
	require.Equal(567, wantBlocks)

	require.NoError(fs.Seekr(0))
	buf := make([]byte, 290000)
	require.NoError(fs.Read(buf))
	for i := 0; i < 290000; i += 290 {
		require.Equal(chunk, buf[i:i+290], "mismatch at offset %d", i)
	}

	require.NoError(fs.Close())
}

// TestScenarioRemoveReclaimsSpace is spec scenario 5.
func TestScenarioRemoveReclaimsSpace(t *testing.T) {
	require := require.New(t)
	fs := newTestFS(t)

	freeBefore := countFreeBlocks(fs)

	require.NoError(fs.Mkdir("/a"))
	require.NoError(fs.Mkdir("/a/b"))
	require.NoError(fs.Open("/a/b/f"))
	fileInode := fs.openInodeNum

	chunk := make([]byte, 290)
	for i := 0; i < 1000; i++ {
		require.NoError(fs.Write(chunk))
	}
	require.NoError(fs.Close())

	require.NoError(fs.Remove("/a/b/f"))

	freeAfterRemovingFile := countFreeBlocks(fs)
	require.Equal(freeBefore-2, freeAfterRemovingFile) // /a and /a/b data blocks still allocated

	// fileInode must read back as not-allocated now that Remove freed it.
	_, err := fs.driver.GetInode(fileInode)
	require.Error(err)
}

// TestScenarioRmdirOrdering is spec scenario 6.
func TestScenarioRmdirOrdering(t *testing.T) {
	require := require.New(t)
	fs := newTestFS(t)

	require.NoError(fs.Mkdir("/a"))
	require.NoError(fs.Mkdir("/a/b"))

	require.Error(fs.Rmdir("/a"))
	require.NoError(fs.Rmdir("/a/b"))
	require.NoError(fs.Rmdir("/a"))
	require.Error(fs.Rmdir("/a"))
}

// TestPropertyMkdirRmdirRestoresFreeCounts is P5, checked on the free-block
// count.
func TestPropertyMkdirRmdirRestoresFreeCounts(t *testing.T) {
	require := require.New(t)
	fs := newTestFS(t)

	blocksBefore := countFreeBlocks(fs)

	require.NoError(fs.Mkdir("/p"))
	require.NoError(fs.Rmdir("/p"))

	require.Equal(blocksBefore, countFreeBlocks(fs))
}

// TestPropertyResolverRejectsMalformedPaths is P6.
func TestPropertyResolverRejectsMalformedPaths(t *testing.T) {
	require := require.New(t)
	fs := newTestFS(t)

	for _, path := range []string{"relative/path", "", "/a//b", "/a/"} {
		_, _, err := fs.resolve(path)
		require.Error(err, "path %q should be rejected", path)
	}
}

// TestPropertyCloseReopenRoundTrip is P4's first half: reading [0, size)
// after close(F) and reopening yields exactly the bytes written.
func TestPropertyCloseReopenRoundTrip(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "vdisk")
	fs, err := New(path)
	require.NoError(err)

	require.NoError(fs.Open("/f"))
	want := []byte(strings.Repeat("abcdefghij", 100))
	require.NoError(fs.Write(want))
	require.NoError(fs.Close())

	reopened, err := New(path)
	require.NoError(err)
	require.NoError(reopened.Open("/f"))
	require.Equal(len(want), reopened.GetOpenFileSize())

	got := make([]byte, len(want))
	require.NoError(reopened.Read(got))
	require.Equal(want, got)
	require.NoError(reopened.Close())
}

// TestPropertyNonAlignedOverwritePreservesSurroundingBytes is P4's second
// half: a write at a non-block-aligned offset preserves the bytes on either
// side of it (read-modify-write correctness).
func TestPropertyNonAlignedOverwritePreservesSurroundingBytes(t *testing.T) {
	require := require.New(t)
	fs := newTestFS(t)

	require.NoError(fs.Open("/f"))
	original := make([]byte, 3*vdd.BlockSize)
	for i := range original {
		original[i] = byte(i % 256)
	}
	require.NoError(fs.Write(original))

	patch := []byte("PATCHED")
	offset := vdd.BlockSize + 17 // unaligned, inside the second block
	require.NoError(fs.Seekw(offset))
	require.NoError(fs.Write(patch))

	require.NoError(fs.Seekr(0))
	got := make([]byte, len(original))
	require.NoError(fs.Read(got))

	want := append([]byte{}, original...)
	copy(want[offset:], patch)
	require.Equal(want, got)

	require.NoError(fs.Close())
}

func countFreeBlocks(fs *FileSystem) int {
	n := 0
	for b := vdd.MetaBlocks; b < vdd.NumBlocks; b++ {
		// GetFreeBlock mutates the clock hand, so probe the in-memory
		// vector directly via a throwaway round trip instead.
		if probeFree(fs, b) {
			n++
		}
	}
	return n
}

// probeFree reports whether block b is currently free, by attempting an
// allocating write and immediately freeing it again if it succeeds.
func probeFree(fs *FileSystem, b int) bool {
	if err := fs.driver.WriteBlock(make([]byte, vdd.BlockSize), b); err != nil {
		return false
	}
	_ = fs.driver.FreeBlock(b)
	return true
}
