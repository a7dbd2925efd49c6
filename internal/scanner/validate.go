// Package scanner holds the format validators and the structural scan used
// by ingestion and by maintenance rescans. Full format-specific attribute
// extraction belongs to external scanners; this package recognises message
// boundaries by signature, threads pre-scanned sidecar metadata through when
// it is fresh, and exposes an extractor registry so real per-format scanners
// can plug in.
package scanner

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
)

// Validator recognises a well-formed message of one format by signature .
// Used by check and by writers to reject malformed appends.
type Validator interface {
	Format() string
	Validate(buf []byte) error
}

var hdf5Magic = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

type gribValidator struct{}

func (gribValidator) Format() string { return "grib1" }
func (gribValidator) Validate(buf []byte) error {
	if len(buf) < 8 || !bytes.HasPrefix(buf, []byte("GRIB")) || !bytes.HasSuffix(buf, []byte("7777")) {
		return fmt.Errorf("scanner: %w: not a GRIB message", errs.ErrDataCorrupt)
	}
	return nil
}

type bufrValidator struct{}

func (bufrValidator) Format() string { return "bufr" }
func (bufrValidator) Validate(buf []byte) error {
	if len(buf) < 8 || !bytes.HasPrefix(buf, []byte("BUFR")) || !bytes.HasSuffix(buf, []byte("7777")) {
		return fmt.Errorf("scanner: %w: not a BUFR message", errs.ErrDataCorrupt)
	}
	return nil
}

type odimValidator struct{}

func (odimValidator) Format() string { return "odimh5" }
func (odimValidator) Validate(buf []byte) error {
	if !bytes.HasPrefix(buf, hdf5Magic) {
		return fmt.Errorf("scanner: %w: not an HDF5 file", errs.ErrDataCorrupt)
	}
	return nil
}

type vm2Validator struct{}

func (vm2Validator) Format() string { return "vm2" }
func (vm2Validator) Validate(buf []byte) error {
	if len(buf) < 2 || buf[len(buf)-1] != '\n' {
		return fmt.Errorf("scanner: %w: VM2 line not newline-terminated", errs.ErrDataCorrupt)
	}
	for _, b := range buf[:len(buf)-1] {
		if b < 0x20 || b > 0x7e {
			return fmt.Errorf("scanner: %w: VM2 line contains non-printable byte 0x%02x", errs.ErrDataCorrupt, b)
		}
	}
	return nil
}

var validators = map[string]Validator{
	"grib1":  gribValidator{},
	"grib2":  gribValidator{},
	"grib":   gribValidator{},
	"bufr":   bufrValidator{},
	"odimh5": odimValidator{},
	"h5":     odimValidator{},
	"vm2":    vm2Validator{},
}

// ValidatorFor returns the validator for a format name, or false when the
// format is not recognised.
func ValidatorFor(format string) (Validator, bool) {
	v, ok := validators[strings.ToLower(format)]
	return v, ok
}

// Validate checks buf against the format's signature validator. An
// unrecognised format is accepted: the core never refuses formats it was
// only asked to store opaquely.
func Validate(format string, buf []byte) error {
	v, ok := ValidatorFor(format)
	if !ok {
		return nil
	}
	return v.Validate(buf)
}

// FormatOf infers a format name from a file path's extension.
func FormatOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(path[i+1:])
}
