// Package rebuild packages recovered files into a freshly written,
// structurally clean archive. Every local header, central directory entry,
// and EOCD is computed from the new file's own offsets; no structural field
// is ever copied from the damaged source.
package rebuild

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/znuzhg/zip-fixer/salvage"
)

// DefaultBufferSize is the length of the copy buffer for adding files, 32 KiB.
const DefaultBufferSize = 32 * 1024

// Options customises Rebuild.
type Options struct {
	// NewWriter allows customization of the zip.Writer being used.
	//
	// Default to a writer with flate.DefaultCompression registered.
	NewWriter func(w io.Writer) *zip.Writer

	// BufferSize is the length of the buffer for copying files into the
	// archive.
	//
	// Default to DefaultBufferSize.
	BufferSize int
}

// WithBestCompression registers flate.BestCompression on the zip.Writer.
func WithBestCompression(opts *Options) {
	opts.NewWriter = newWriter(flate.BestCompression)
}

// WithNoCompression registers flate.NoCompression on the zip.Writer.
func WithNoCompression(opts *Options) {
	opts.NewWriter = newWriter(flate.NoCompression)
}

func newWriter(level int) func(w io.Writer) *zip.Writer {
	return func(w io.Writer) *zip.Writer {
		zw := zip.NewWriter(w)
		zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(w, level)
		})
		return zw
	}
}

// Skipped is a recovered entry that could not be added to the new archive,
// most likely because the file vanished from the output directory. Skips are
// recorded, never fatal.
type Skipped struct {
	Record salvage.Record
	Err    error
}

// Result summarises a rebuild.
type Result struct {
	// Included are the archive paths written to the new archive.
	Included []string
	// Skipped are the eligible records that could not be included.
	Skipped []Skipped
}

// Rebuild writes a new archive to dst containing every record whose status
// produced bytes on disk: ok, crc-mismatch, and truncated entries are all
// included, keeping whatever could be salvaged. Unreadable and
// unsupported-method entries have nothing on disk and are left out.
//
// Rebuild fails only if the archive itself cannot be written; per-entry
// inclusion failures degrade to skip-and-continue on the Result.
func Rebuild(ctx context.Context, dir string, records []salvage.Record, dst io.Writer, optFns ...func(*Options)) (Result, error) {
	opts := &Options{
		NewWriter:  newWriter(flate.DefaultCompression),
		BufferSize: DefaultBufferSize,
	}
	for _, fn := range optFns {
		fn(opts)
	}

	var res Result

	zw := opts.NewWriter(dst)
	buf := make([]byte, opts.BufferSize)

	for _, rec := range records {
		if !rec.Status.Recovered() || rec.Entry.IsDir() {
			continue
		}

		select {
		case <-ctx.Done():
			_ = zw.Close()
			return res, ctx.Err()
		default:
		}

		name, err := archivePath(dir, rec.Path)
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{Record: rec, Err: err})
			continue
		}

		if err = addFile(ctx, zw, rec.Path, name, buf); err != nil {
			if ctx.Err() != nil {
				_ = zw.Close()
				return res, err
			}

			res.Skipped = append(res.Skipped, Skipped{Record: rec, Err: err})
			continue
		}

		res.Included = append(res.Included, name)
	}

	if err := zw.Close(); err != nil {
		return res, fmt.Errorf("finalize archive error: %w", err)
	}

	return res, nil
}

// RebuildFile creates the archive at the named path and runs Rebuild on it.
func RebuildFile(ctx context.Context, dir string, records []salvage.Record, name string, optFns ...func(*Options)) (Result, error) {
	f, err := os.Create(name)
	if err != nil {
		return Result{}, fmt.Errorf("create archive error: %w", err)
	}

	res, err := Rebuild(ctx, dir, records, f, optFns...)
	if err != nil {
		_ = f.Close()
		return res, err
	}

	if err = f.Close(); err != nil {
		return res, fmt.Errorf("close archive error: %w", err)
	}

	return res, nil
}

// archivePath maps a recovered file back to its archive-relative slash path.
func archivePath(dir, path string) (string, error) {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return "", fmt.Errorf("resolve archive path error: %w", err)
	}

	return filepath.ToSlash(rel), nil
}

// addFile writes one recovered file under a fresh header. The header carries
// only the file's own name, mode, and timestamp; sizes, CRC, and offsets are
// computed by the writer.
func addFile(ctx context.Context, zw *zip.Writer, path, name string, buf []byte) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open recovered file error: %w", err)
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return fmt.Errorf("describe recovered file error: %w", err)
	}

	fh := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: fi.ModTime(),
	}
	fh.SetMode(fi.Mode())

	w, err := zw.CreateHeader(fh)
	if err != nil {
		return fmt.Errorf("create file header error: %w", err)
	}

	return copyBuffer(ctx, w, src, buf)
}

// copyBuffer is an implementation of io.Copy that is cancellable, checking
// the context after every chunk.
func copyBuffer(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (err error) {
	var nr, nw int
	for {
		nr, err = src.Read(buf)

		if nr > 0 {
			switch nw, err = dst.Write(buf[0:nr]); {
			case err != nil:
				return err
			case nw < nr:
				return io.ErrShortWrite
			case nw != nr:
				return fmt.Errorf("invalid write: expected to write %d bytes, wrote %d bytes instead", nr, nw)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
