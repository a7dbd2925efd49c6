package scanner

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/metadata"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

// Extractor enriches a structurally-scanned metadata with format-specific
// attributes parsed from the message bytes. Real format scanners register
// here; the built-in VM2 extractor covers the one format whose attributes
// are recoverable from plain text.
type Extractor func(buf []byte, md *metadata.Metadata) error

var extractors = map[string]Extractor{
	"vm2": extractVM2,
}

// RegisterExtractor installs (or replaces) the attribute extractor for a
// format. Called at program setup, not safe for concurrent use with Scan.
func RegisterExtractor(format string, ex Extractor) {
	extractors[strings.ToLower(format)] = ex
}

// Scan iterates the messages in the file at path, emitting one Metadata per
// message with source = BLOB(relname, offset, size) to consumer. It returns
// (true, nil) when the format was handled, (false, nil) when it was not.
//
// If `<path>.metadata` exists and is newer than the data file, the pre-
// scanned metadata is used verbatim and no structural re-scan occurs. A
// stale sidecar is still consulted: for every message whose offset and size
// match a live record of the old sidecar, that record's attributes (all but
// the source) are carried over, which is what lets a rescan of an intact GRIB segment rebuild its
// index without a format parser in-process.
func Scan(path, basedir, relname string, consumer func(*metadata.Metadata) error, format string) (bool, error) {
	if format == "" {
		format = FormatOf(path)
	}
	if _, ok := ValidatorFor(format); !ok {
		return false, nil
	}

	sidecar := path + ".metadata"
	if fresh, err := sidecarFresh(path, sidecar); err != nil {
		return true, err
	} else if fresh {
		buf, err := os.ReadFile(sidecar)
		if err != nil {
			return true, fmt.Errorf("scanner: read sidecar %q: %w", sidecar, err)
		}
		items, deleted, err := metadata.ReadAll(buf, basedir)
		if err != nil {
			return true, fmt.Errorf("scanner: decode sidecar %q: %w", sidecar, err)
		}
		for i, md := range items {
			if deleted[i] {
				continue
			}
			if err := consumer(md); err != nil {
				return true, err
			}
		}
		return true, nil
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return true, fmt.Errorf("scanner: %w: read %q: %v", errs.ErrDataUnavailable, path, err)
	}

	extents, err := segmentMessages(format, buf)
	if err != nil {
		return true, err
	}

	// Stale sidecar: salvage attributes for every message whose byte extent
	// still matches an old record, so a rescan after a partial append keeps
	// what the format scanner once extracted.
	old := make(map[[2]int64]*metadata.Metadata)
	if items, deleted, err := readSidecarIgnoringErrors(sidecar, basedir); err == nil {
		for i, item := range items {
			if deleted[i] {
				continue
			}
			if src, ok := item.Source(); ok {
				old[[2]int64{src.Offset, src.Size}] = item
			}
		}
	}

	for _, ext := range extents {
		md := metadata.New()
		if prev, ok := old[[2]int64{ext.offset, ext.size}]; ok {
			for _, code := range types.Codes {
				if item, ok := prev.Get(code); ok && code != types.CodeSource {
					md.Set(item)
				}
			}
		}
		if ex, ok := extractors[format]; ok {
			if err := ex(buf[ext.offset:ext.offset+ext.size], md); err != nil {
				return true, fmt.Errorf("scanner: extract %s message at %d: %w", format, ext.offset, err)
			}
		}
		md.SetSource(format, basedir, relname, ext.offset, ext.size)
		if err := consumer(md); err != nil {
			return true, err
		}
	}
	return true, nil
}

func sidecarFresh(dataPath, sidecarPath string) (bool, error) {
	si, err := os.Stat(sidecarPath)
	if err != nil {
		return false, nil
	}
	di, err := os.Stat(dataPath)
	if err != nil {
		return false, fmt.Errorf("scanner: %w: stat %q: %v", errs.ErrDataUnavailable, dataPath, err)
	}
	return si.ModTime().After(di.ModTime()), nil
}

func readSidecarIgnoringErrors(path, basedir string) ([]*metadata.Metadata, []bool, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return metadata.ReadAll(buf, basedir)
}

type extent struct {
	offset, size int64
}

// segmentMessages finds message boundaries by signature. Padding between
// messages (whitespace, zero fill) is tolerated on read; bytes that belong
// to no recognisable message are skipped.
func segmentMessages(format string, buf []byte) ([]extent, error) {
	switch format {
	case "grib", "grib1", "grib2":
		return segmentDelimited(buf, []byte("GRIB"), []byte("7777"))
	case "bufr":
		return segmentDelimited(buf, []byte("BUFR"), []byte("7777"))
	case "odimh5", "h5":
		if err := Validate(format, buf); err != nil {
			return nil, err
		}
		return []extent{{offset: 0, size: int64(len(buf))}}, nil
	case "vm2":
		return segmentVM2(buf), nil
	}
	return nil, fmt.Errorf("scanner: %w: no segmentation rule for format %q", errs.ErrMalformedInput, format)
}

func segmentDelimited(buf, start, end []byte) ([]extent, error) {
	var out []extent
	pos := 0
	for {
		i := bytes.Index(buf[pos:], start)
		if i < 0 {
			break
		}
		msgStart := pos + i
		j := bytes.Index(buf[msgStart+len(start):], end)
		if j < 0 {
			return out, fmt.Errorf("scanner: %w: message at %d has no terminator", errs.ErrDataCorrupt, msgStart)
		}
		msgEnd := msgStart + len(start) + j + len(end)
		out = append(out, extent{offset: int64(msgStart), size: int64(msgEnd - msgStart)})
		pos = msgEnd
	}
	return out, nil
}

// segmentVM2 yields one extent per valid line. On garbage (a zero block, a
// torn line) it resynchronises at the next printable position instead of
// discarding everything up to the following newline, so a corrupt run in the
// middle of a segment costs only the bytes it covers.
func segmentVM2(buf []byte) []extent {
	var out []extent
	var pos int64
	for int(pos) < len(buf) {
		nl := bytes.IndexByte(buf[pos:], '\n')
		var line []byte
		var size int64
		if nl < 0 {
			line = buf[pos:]
			size = int64(len(line))
		} else {
			line = buf[pos : pos+int64(nl)+1]
			size = int64(nl) + 1
		}
		if vm2LineValid(line) {
			out = append(out, extent{offset: pos, size: size})
			pos += size
			continue
		}
		pos++
		for int(pos) < len(buf) && (buf[pos] < 0x20 || buf[pos] > 0x7e) {
			pos++
		}
	}
	return out
}

func vm2LineValid(line []byte) bool {
	if len(line) < 2 || line[len(line)-1] != '\n' {
		return false
	}
	return vm2Validator{}.Validate(line) == nil
}

// extractVM2 parses the attributes recoverable from a VM2 text line:
// `YYYYMMDDHHMM,station,variable,...`. The reftime comes from the leading
// timestamp; the whole line becomes the opaque value attribute.
func extractVM2(buf []byte, md *metadata.Metadata) error {
	line := strings.TrimRight(string(buf), "\n")
	fields := strings.Split(line, ",")
	if len(fields) < 3 || len(fields[0]) < 12 {
		return fmt.Errorf("scanner: %w: malformed VM2 line %q", errs.ErrDataCorrupt, line)
	}
	ts := fields[0]
	parse := func(s string) (int, error) { return strconv.Atoi(s) }
	year, err1 := parse(ts[0:4])
	month, err2 := parse(ts[4:6])
	day, err3 := parse(ts[6:8])
	hour, err4 := parse(ts[8:10])
	minute, err5 := parse(ts[10:12])
	for _, err := range []error{err1, err2, err3, err4, err5} {
		if err != nil {
			return fmt.Errorf("scanner: %w: bad VM2 timestamp %q", errs.ErrDataCorrupt, ts)
		}
	}
	t := types.Time{Year: uint16(year), Month: uint8(month), Day: uint8(day), Hour: uint8(hour), Minute: uint8(minute)}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("scanner: %w: VM2 timestamp %q: %v", errs.ErrDataCorrupt, ts, err)
	}
	md.Set(types.NewReftimePosition(t))
	md.Set(types.NewValue([]byte(line)))
	if station, err := strconv.Atoi(fields[1]); err == nil {
		md.Set(types.NewArea("VM2", types.KVInt("id", station)))
	}
	if variable, err := strconv.Atoi(fields[2]); err == nil {
		md.Set(types.NewProddef("VM2", types.KVInt("id", variable)))
	}
	return nil
}
