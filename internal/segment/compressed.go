package segment

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
)

// Compressed is the compressed segment shape: the concatenated form's bytes,
// regrouped into independent gzip members, plus a sibling `.gz.idx` seek
// index of (uncompressed-offset, compressed-offset) pairs at block
// boundaries. It is produced by packing an existing Concat segment (see
// Compress, used by the maintenance repacker) and is read-only afterwards:
// compressed segments are never appended to directly.
type Compressed struct {
	basedir, relpath string
	idx              []seekEntry
}

type seekEntry struct {
	uncompressed int64
	compressed   int64
}

func gzPath(basedir, relpath string) string    { return filepath.Join(basedir, relpath+".gz") }
func gzIdxPath(basedir, relpath string) string { return filepath.Join(basedir, relpath+".gz.idx") }

// Compress reads the concatenated data file for relpath (grouping message
// boundaries taken from the already-written `<seg>.metadata` sidecar, in
// offset order) and writes `<seg>.gz` + `<seg>.gz.idx` in its place, packing
// groupSize messages per independent gzip member so random reads only need
// to inflate one block.
func Compress(basedir, relpath string, offsets []int64, sizes []int64, groupSize int) error {
	if len(offsets) != len(sizes) {
		return fmt.Errorf("segment: Compress: %d offsets but %d sizes", len(offsets), len(sizes))
	}
	if groupSize <= 0 {
		groupSize = 1
	}

	srcPath := filepath.Join(basedir, relpath)
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("segment: Compress: open %q: %w", srcPath, err)
	}
	defer src.Close()

	dstPath := gzPath(basedir, relpath)
	dst, err := os.OpenFile(dstPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("segment: Compress: create %q: %w", dstPath, err)
	}
	defer dst.Close()

	var idx []seekEntry
	var compressedOffset int64

	for start := 0; start < len(offsets); start += groupSize {
		end := start + groupSize
		if end > len(offsets) {
			end = len(offsets)
		}
		blockStart := offsets[start]
		blockEnd := offsets[end-1] + sizes[end-1]

		idx = append(idx, seekEntry{uncompressed: blockStart, compressed: compressedOffset})

		if _, err := src.Seek(blockStart, io.SeekStart); err != nil {
			return fmt.Errorf("segment: Compress: seek source: %w", err)
		}
		gw := gzip.NewWriter(dst)
		if _, err := io.CopyN(gw, src, blockEnd-blockStart); err != nil {
			return fmt.Errorf("segment: Compress: copy block: %w", err)
		}
		if err := gw.Close(); err != nil {
			return fmt.Errorf("segment: Compress: close gzip member: %w", err)
		}
		pos, err := dst.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("segment: Compress: tell: %w", err)
		}
		compressedOffset = pos
	}

	return writeSeekIndex(gzIdxPath(basedir, relpath), idx)
}

func writeSeekIndex(path string, idx []seekEntry) error {
	buf := make([]byte, 0, 16*len(idx))
	for _, e := range idx {
		var tmp [16]byte
		binary.BigEndian.PutUint64(tmp[0:8], uint64(e.uncompressed))
		binary.BigEndian.PutUint64(tmp[8:16], uint64(e.compressed))
		buf = append(buf, tmp[:]...)
	}
	return os.WriteFile(path, buf, 0o644)
}

func readSeekIndex(path string) ([]seekEntry, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("segment: read seek index %q: %w", path, err)
	}
	if len(buf)%16 != 0 {
		return nil, fmt.Errorf("segment: %w: seek index %q has non-multiple-of-16 length %d", errs.ErrDataCorrupt, path, len(buf))
	}
	idx := make([]seekEntry, 0, len(buf)/16)
	for i := 0; i < len(buf); i += 16 {
		idx = append(idx, seekEntry{
			uncompressed: int64(binary.BigEndian.Uint64(buf[i : i+8])),
			compressed:   int64(binary.BigEndian.Uint64(buf[i+8 : i+16])),
		})
	}
	return idx, nil
}

// OpenCompressed opens an already-packed compressed segment, loading its
// seek index.
func OpenCompressed(basedir, relpath string) (*Compressed, error) {
	idx, err := readSeekIndex(gzIdxPath(basedir, relpath))
	if err != nil {
		return nil, err
	}
	return &Compressed{basedir: basedir, relpath: relpath, idx: idx}, nil
}

// ReadAt resolves a (uncompressed-offset, size) read against the seek index:
// locate the block whose uncompressed range covers offset, open its gzip
// member, skip to the right position, and read size bytes.
func (c *Compressed) ReadAt(offset, size int64) ([]byte, error) {
	block, ok := c.blockFor(offset)
	if !ok {
		return nil, fmt.Errorf("segment: %w: offset %d not covered by seek index for %q", errs.ErrDataUnavailable, offset, c.relpath)
	}

	f, err := os.Open(gzPath(c.basedir, c.relpath))
	if err != nil {
		return nil, fmt.Errorf("segment: open %q: %v: %w", gzPath(c.basedir, c.relpath), err, errs.ErrDataUnavailable)
	}
	defer f.Close()

	if _, err := f.Seek(block.compressed, io.SeekStart); err != nil {
		return nil, fmt.Errorf("segment: seek compressed segment: %w", err)
	}
	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("segment: %w: open gzip member at %d: %v", errs.ErrDataCorrupt, block.compressed, err)
	}
	gr.Multistream(false)
	defer gr.Close()

	skip := offset - block.uncompressed
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, gr, skip); err != nil {
			return nil, fmt.Errorf("segment: skip to offset %d: %w", offset, err)
		}
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(gr, buf); err != nil {
		return nil, fmt.Errorf("segment: read %d bytes at %d: %v: %w", size, offset, err, errs.ErrDataCorrupt)
	}
	return buf, nil
}

func (c *Compressed) blockFor(offset int64) (seekEntry, bool) {
	var best seekEntry
	found := false
	for _, e := range c.idx {
		if e.uncompressed <= offset && (!found || e.uncompressed > best.uncompressed) {
			best, found = e, true
		}
	}
	return best, found
}

// gzSequential reads a `.gz` segment that has no seek index: the whole
// stream is decompressed on first use and kept for the reader cache's
// lifetime, so in-order reads never rewind.
type gzSequential struct {
	basedir, relpath string
	data             []byte
}

func openGzSequential(basedir, relpath string) *gzSequential {
	return &gzSequential{basedir: basedir, relpath: relpath}
}

func (g *gzSequential) ReadAt(offset, size int64) ([]byte, error) {
	if g.data == nil {
		f, err := os.Open(gzPath(g.basedir, g.relpath))
		if err != nil {
			return nil, fmt.Errorf("segment: open %q: %v: %w", gzPath(g.basedir, g.relpath), err, errs.ErrDataUnavailable)
		}
		defer f.Close()
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("segment: %w: open gzip stream %q: %v", errs.ErrDataCorrupt, g.relpath, err)
		}
		defer gr.Close()
		g.data, err = io.ReadAll(gr)
		if err != nil {
			return nil, fmt.Errorf("segment: %w: decompress %q: %v", errs.ErrDataCorrupt, g.relpath, err)
		}
	}
	if offset+size > int64(len(g.data)) {
		return nil, fmt.Errorf("segment: %w: read %d+%d past end of %q (%d bytes)",
			errs.ErrDataUnavailable, offset, size, g.relpath, len(g.data))
	}
	return g.data[offset : offset+size], nil
}

// MessageSource installs a BLOB source pointing at the logical (pre-
// compression) offset/size for a message that now lives inside a compressed
// segment; the uncompressed offset space is unchanged by packing, only the
// physical storage is, so existing metadata sidecar entries remain valid
// without rewriting.
func MessageSource(md *metadata.Metadata, format, basedir, relpath string, offset, size int64) {
	md.SetSource(format, basedir, relpath, offset, size)
}
