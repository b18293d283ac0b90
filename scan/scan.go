// Package scan parses the end-of-central-directory trailer, the ZIP64
// extensions, and the central directory of a possibly damaged ZIP archive.
//
// The parser is deliberately tolerant: every offset and length derived from
// the file is clamped against the actual file length before use, and any
// failure past the EOCD is recorded as a per-item Defect on the Report
// instead of aborting the walk. The EOCD itself is the archive's root of
// trust; if it cannot be found, ErrNoEOCD is returned and nothing downstream
// is attempted.
package scan

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// Analyze reads the archive structure from src and produces a Report.
//
// Analyze never mutates the file; the Report it returns is an immutable
// snapshot, safe to hand to the patcher and extractor.
func Analyze(src io.ReaderAt, size int64) (*Report, error) {
	eocd, err := findEOCD(src, size)
	if err != nil {
		return nil, err
	}

	r := &Report{FileSize: size, EOCD: eocd}

	if r.Locator, err = findLocator(src, eocd.Offset); err != nil {
		return nil, err
	}

	switch {
	case r.Locator != nil:
		r.NeedsZip64Patch = r.Locator.TotalDisks == 0

		if r.Zip64, err = readZip64Record(src, r.Locator, size); err != nil {
			r.addDefect(-1, int64(r.Locator.EOCD64Offset), err.Error())
		}
	case eocd.zip64():
		// sentinel values promise a ZIP64 locator that is not there. the
		// 32-bit fields are all we have to go on.
		r.addDefect(-1, eocd.Offset, "EOCD carries ZIP64 sentinel values but no ZIP64 locator precedes it")
	}

	readCentralDirectory(src, r)

	return r, nil
}

// AnalyzeFile opens the named file read-only and runs Analyze on it.
func AnalyzeFile(name string) (*Report, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open archive error: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("describe archive error: %w", err)
	}

	return Analyze(f, fi.Size())
}

// readCentralDirectory walks the central directory for exactly the resolved
// entry count or until the directory region is exhausted, whichever comes
// first. Corrupt counts or offsets must never cause a read outside the file.
func readCentralDirectory(src io.ReaderAt, r *Report) {
	offset, size, count := r.CDOffset(), r.CDSize(), r.CDCount()

	switch {
	case count < 0:
		r.addDefect(-1, offset, fmt.Sprintf("implausible central directory entry count %d", count))
		return
	case count == 0:
		return
	case offset < 0 || offset >= r.FileSize:
		r.addDefect(-1, offset, fmt.Sprintf("central directory offset 0x%x outside file of %d bytes", offset, r.FileSize))
		return
	case size < 0:
		r.addDefect(-1, offset, "negative central directory size")
		return
	case offset+size > r.FileSize:
		r.addDefect(-1, offset, fmt.Sprintf("central directory of %d bytes at 0x%x overruns file of %d bytes; clamped", size, offset, r.FileSize))
		size = r.FileSize - offset
	}

	var (
		bufSrc = bufio.NewReaderSize(io.NewSectionReader(src, offset, size), 16*1024)
		buf    = make([]byte, cdfhLen)
	)

	r.Entries = make([]Entry, 0, min(count, 1024))

	for i := 0; i < count; i++ {
		switch _, err := io.ReadFull(bufSrc, buf); {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			r.addDefect(i, offset, fmt.Sprintf("central directory ends after %d of %d declared entries", i, count))
			return
		case err != nil:
			r.addDefect(i, offset, fmt.Sprintf("read central directory entry %d error: %v", i, err))
			return
		}

		e, err := unmarshalEntry(([cdfhLen]byte)(buf), func(b []byte) (int, error) {
			return io.ReadFull(bufSrc, b)
		})
		if err != nil {
			// the stream position is no longer trustworthy past a bad
			// entry, so the walk stops; everything before it is kept.
			r.addDefect(i, offset, fmt.Sprintf("malformed central directory entry %d: %v", i, err))
			return
		}

		if e.HeaderOffset < 0 || e.HeaderOffset >= r.FileSize {
			r.addDefect(i, e.HeaderOffset, fmt.Sprintf("entry %q declares local header at 0x%x outside file of %d bytes", e.Name, e.HeaderOffset, r.FileSize))
		}

		r.Entries = append(r.Entries, e)
	}
}
