// Package patch applies the single-field correction for the known ZIP64
// locator corruption: a total-number-of-disks field written as 0 where a
// single-volume archive must carry 1.
//
// A patch is expressed as (offset, expected old value, new value) against the
// file's bytes, never as a mutation of the parsed report. This is the only
// component of the pipeline allowed to write to the source archive.
package patch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/znuzhg/zip-fixer/scan"
)

var (
	// ErrNotNeeded is returned by Plan when the report does not flag the
	// known corruption.
	ErrNotNeeded = errors.New("archive does not need the ZIP64 total-disks patch")

	// ErrPrecondition is returned when the on-disk field no longer holds the
	// value the analyzer saw; the file changed since analysis and the caller
	// should re-run the check.
	ErrPrecondition = errors.New("patch precondition failed: file changed since analysis")

	// ErrVerification is returned when the re-read after writing does not
	// confirm the written value.
	ErrVerification = errors.New("patch verification failed: write did not land")
)

const fieldLen = 4

// Patch is a planned one-field correction.
type Patch struct {
	// Offset is the file offset of the 4-byte little-endian field to patch.
	Offset int64
	// Expected is the value the field must still hold before writing.
	Expected uint32
	// Value is the value to write.
	Value uint32
}

// Result describes the outcome of applying or simulating a Patch.
type Result struct {
	// Applied is true only when bytes were written.
	Applied bool
	// DryRun is true when the write was simulated.
	DryRun bool
	// Offset is the patched file offset.
	Offset int64
	// Old and New are the field values before and after.
	Old uint32
	New uint32
}

// Plan derives the patch from an analyzer report. The target offset comes
// from the locator position the analyzer recorded, never from re-scanning the
// file, so analysis and patching always talk about the same bytes.
func Plan(r *scan.Report) (Patch, error) {
	if !r.NeedsZip64Patch || r.Locator == nil {
		return Patch{}, ErrNotNeeded
	}

	return Patch{
		Offset:   r.Locator.TotalDisksOffset(),
		Expected: 0,
		Value:    1,
	}, nil
}

// Apply writes the patch to the named file in place.
//
// The field is re-read before writing and must still hold the expected value
// (ErrPrecondition otherwise), and re-read after writing to confirm the write
// landed (ErrVerification otherwise). The file is opened read-write for the
// whole precondition-write-verify sequence and synced before close.
func (p Patch) Apply(name string) (Result, error) {
	return p.apply(name, false)
}

// DryRun performs every step of Apply except the write and reports what would
// change.
func (p Patch) DryRun(name string) (Result, error) {
	return p.apply(name, true)
}

func (p Patch) apply(name string, dryRun bool) (res Result, err error) {
	res = Result{DryRun: dryRun, Offset: p.Offset, Old: p.Expected, New: p.Value}

	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return res, fmt.Errorf("open archive for patching error: %w", err)
	}
	defer f.Close()

	b := make([]byte, fieldLen)
	if _, err = f.ReadAt(b, p.Offset); err != nil {
		return res, fmt.Errorf("read field at 0x%x error: %w", p.Offset, err)
	}

	if v := binary.LittleEndian.Uint32(b); v != p.Expected {
		res.Old = v
		return res, fmt.Errorf("%w: field at 0x%x holds %d, expected %d", ErrPrecondition, p.Offset, v, p.Expected)
	}

	if dryRun {
		return res, nil
	}

	binary.LittleEndian.PutUint32(b, p.Value)
	if _, err = f.WriteAt(b, p.Offset); err != nil {
		return res, fmt.Errorf("write field at 0x%x error: %w", p.Offset, err)
	}

	if err = f.Sync(); err != nil {
		return res, fmt.Errorf("sync after patch error: %w", err)
	}

	if _, err = f.ReadAt(b, p.Offset); err != nil {
		return res, fmt.Errorf("re-read field at 0x%x error: %w", p.Offset, err)
	}

	if v := binary.LittleEndian.Uint32(b); v != p.Value {
		return res, fmt.Errorf("%w: field at 0x%x holds %d after writing %d", ErrVerification, p.Offset, v, p.Value)
	}

	res.Applied = true
	return res, nil
}
