// Package salvage streams every recoverable entry of a damaged archive to
// disk, one Record per central directory entry, without ever aborting the
// whole run on a single entry's failure.
//
// The defining behavior is the CRC bypass: a checksum mismatch or a corrupt
// compressed stream downgrades the entry's status but keeps the bytes that
// were already written. Reads are bounded by the file length resolved up
// front, and each entry is copied in fixed-size chunks so peak memory stays
// flat for multi-gigabyte archives.
package salvage

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/schollz/progressbar/v3"
	"github.com/znuzhg/zip-fixer/scan"
)

const (
	// DefaultBufferSize is the chunk size for streaming each entry, 32 KiB.
	DefaultBufferSize = 32 * 1024

	methodStore   = 0
	methodDeflate = 8
)

// Options customises Extract.
type Options struct {
	// ProgressBar if given will be fed the uncompressed bytes written.
	ProgressBar *progressbar.ProgressBar

	// BufferSize is the length of the per-entry copy buffer.
	//
	// Default to DefaultBufferSize.
	BufferSize int

	// OnRecord if given is called once per entry right after its record is
	// produced, for progress reporting.
	OnRecord func(Record)
}

// Extract writes every recoverable entry of the analyzed archive under dir.
//
// Extract returns one Record per central directory entry in on-disk order.
// Per-entry faults never abort the run; the only errors returned are
// run-level ones: an unusable output directory or context cancellation,
// which is honored at entry boundaries only. The archive is treated as
// read-only; records accumulated before a cancellation are returned with it.
func Extract(ctx context.Context, src io.ReaderAt, report *scan.Report, dir string, optFns ...func(*Options)) ([]Record, error) {
	opts := &Options{BufferSize: DefaultBufferSize}
	for _, fn := range optFns {
		fn(opts)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory error: %w", err)
	}

	buf := make([]byte, opts.BufferSize)
	records := make([]Record, 0, len(report.Entries))

	for _, e := range report.Entries {
		select {
		case <-ctx.Done():
			return records, ctx.Err()
		default:
		}

		rec := extractEntry(src, report, e, dir, buf, opts.ProgressBar)
		records = append(records, rec)

		if opts.OnRecord != nil {
			opts.OnRecord(rec)
		}
	}

	return records, nil
}

// ExtractFile opens the named archive read-only and runs Extract on it.
func ExtractFile(ctx context.Context, name string, report *scan.Report, dir string, optFns ...func(*Options)) ([]Record, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open archive error: %w", err)
	}
	defer f.Close()

	return Extract(ctx, f, report, dir, optFns...)
}

// extractEntry recovers a single entry. All faults are caught at this
// boundary and expressed as the record's status.
func extractEntry(src io.ReaderAt, report *scan.Report, e scan.Entry, dir string, buf []byte, bar *progressbar.ProgressBar) Record {
	rec := Record{Entry: e}

	name := sanitizeName(e.Name)
	outPath := filepath.Join(dir, name)

	if e.IsDir() {
		if err := os.MkdirAll(outPath, 0755); err != nil {
			rec.Status, rec.Err = StatusUnreadable, err
			return rec
		}

		rec.Path = outPath
		return rec
	}

	switch e.Method {
	case methodStore, methodDeflate:
	default:
		rec.Status = StatusUnsupportedMethod
		rec.Err = fmt.Errorf("unsupported compression method %d", e.Method)
		return rec
	}

	dataOffset, fromLocalHeader := scan.DataOffset(src, e)
	if !fromLocalHeader {
		rec.Err = fmt.Errorf("local header at 0x%x unreadable; data offset estimated from central directory", e.HeaderOffset)
	}

	// truncation is decided up front against the data region resolved from
	// the report: entry data never legitimately extends past the start of
	// the central directory, let alone end of file, so the entry is cut
	// when its declared compressed size overshoots that limit.
	limit := report.FileSize
	if cd := report.CDOffset(); cd >= 0 && cd <= report.FileSize && dataOffset <= cd {
		limit = cd
	}

	avail := int64(e.CompressedSize)
	truncated := dataOffset+avail > limit
	if truncated {
		avail = max(limit-dataOffset, 0)
	}

	var r io.Reader = io.NewSectionReader(src, dataOffset, avail)
	if e.Method == methodDeflate {
		fr := flate.NewReader(r)
		defer fr.Close()
		r = fr
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		rec.Status, rec.Err = StatusUnreadable, err
		return rec
	}

	w, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		rec.Status, rec.Err = StatusUnreadable, err
		return rec
	}

	crc := crc32.NewIEEE()
	dst := io.Writer(io.MultiWriter(w, crc))
	if bar != nil {
		dst = io.MultiWriter(dst, bar)
	}

	written, copyErr := copyBuffer(dst, r, buf)
	if err = w.Close(); copyErr == nil {
		copyErr = err
	}

	rec.Path, rec.BytesWritten = outPath, written

	switch {
	case copyErr == nil:
		if truncated {
			rec.Status = StatusTruncated
		} else if crc.Sum32() != e.CRC32 {
			rec.Status = StatusCRCMismatch
			rec.Err = fmt.Errorf("CRC-32 mismatch: got 0x%08x, declared 0x%08x", crc.Sum32(), e.CRC32)
		} else {
			// the matching checksum vouches for the estimated data offset,
			// so any earlier fallback note no longer applies.
			rec.Err = nil
		}
	case truncated:
		rec.Status, rec.Err = StatusTruncated, copyErr
	case isCorruptStream(copyErr):
		// the stream itself is damaged: keep what was written, report the
		// checksum failure rather than discarding output.
		rec.Status, rec.Err = StatusCRCMismatch, copyErr
	default:
		rec.Status, rec.Err = StatusUnreadable, copyErr
	}

	return rec
}

// copyBuffer copies src to dst in len(buf) chunks, reporting how many bytes
// were written even when the copy fails partway.
func copyBuffer(dst io.Writer, src io.Reader, buf []byte) (written int64, err error) {
	var nr, nw int
	for {
		nr, err = src.Read(buf)

		if nr > 0 {
			switch nw, err = dst.Write(buf[0:nr]); {
			case err != nil:
				return written, err
			case nw < nr:
				return written, io.ErrShortWrite
			case nw != nr:
				return written, fmt.Errorf("invalid write: expected to write %d bytes, wrote %d bytes instead", nr, nw)
			}

			written += int64(nw)
		}

		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

// isCorruptStream reports whether err came from decoding damaged compressed
// data as opposed to failing to read intact data.
func isCorruptStream(err error) bool {
	var cie flate.CorruptInputError
	return errors.As(err, &cie) || errors.Is(err, io.ErrUnexpectedEOF)
}

// sanitizeName normalizes an entry name into a path relative to the output
// root, stripping absolute prefixes and parent-directory escapes. This is a
// minimal safety floor, not full hostile-archive hardening.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")

	// rooting the path before cleaning makes every ".." collapse against
	// the root instead of escaping it.
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" {
		name = "_"
	}

	return filepath.FromSlash(name)
}
