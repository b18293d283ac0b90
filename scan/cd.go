package scan

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// unmarshalEntry decodes the 46-byte slice as a central directory Entry.
// read will always be called to retrieve the variable-size part of the header;
// if there is no variable-size part, read will be passed an empty slice.
func unmarshalEntry(b [cdfhLen]byte, read func(b []byte) (int, error)) (e Entry, err error) {
	data := &struct {
		Signature         uint32
		CreatorVersion    uint16
		ReaderVersion     uint16
		Flags             uint16
		Method            uint16
		ModifiedTime      uint16
		ModifiedDate      uint16
		CRC32             uint32
		CompressedSize    uint32
		UncompressedSize  uint32
		FileNameLength    uint16
		ExtraFieldLength  uint16
		FileCommentLength uint16
		DiskNumber        uint16
		InternalAttrs     uint16
		ExternalAttrs     uint32
		Offset            uint32
	}{}

	if !bytes.Equal(cdfhSigBytes, b[:4]) {
		return e, fmt.Errorf("mismatched signature, got 0x%x, expected 0x%x", b[:4], cdfhSigBytes)
	}

	if err = binary.Read(bytes.NewReader(b[:]), binary.LittleEndian, data); err != nil {
		return e, fmt.Errorf("unmarshal error: %w", err)
	}

	e = Entry{
		Method:           data.Method,
		Flags:            data.Flags,
		CRC32:            data.CRC32,
		CompressedSize:   uint64(data.CompressedSize),
		UncompressedSize: uint64(data.UncompressedSize),
		HeaderOffset:     int64(data.Offset),
		ExternalAttrs:    data.ExternalAttrs,
		Modified:         msDosTimeToTime(data.ModifiedDate, data.ModifiedTime),
	}

	n, m, k := data.FileNameLength, data.ExtraFieldLength, data.FileCommentLength
	nmkLen := int(n) + int(m) + int(k)
	nmk := make([]byte, nmkLen)
	switch readN, err := read(nmk); {
	case err != nil && !errors.Is(err, io.EOF):
		return e, fmt.Errorf("read variable-size data error: %w", err)
	case readN < nmkLen:
		return e, fmt.Errorf("read variable-size data error: insufficient read: expected at least %d bytes, got %d", nmkLen, readN)
	default:
		e.Name, e.Extra, e.Comment = string(nmk[:n]), nmk[n:int(n)+int(m)], string(nmk[int(n)+int(m):])
	}

	resolveZip64Extra(&e,
		data.UncompressedSize == sentinel32,
		data.CompressedSize == sentinel32,
		data.Offset == sentinel32)

	return e, nil
}

// localHeaderDataOffset reads the local file header at the entry's recorded
// header offset and returns the file offset at which the entry's compressed
// data starts.
//
// The local header's own name and extra lengths win here because writers are
// free to store a different extra field locally than in the central
// directory. When the local header is unreadable or carries the wrong
// signature, the last resort is estimating from the central directory's
// lengths; ok is false then so callers can record the inconsistency.
func localHeaderDataOffset(src io.ReaderAt, e Entry) (offset int64, ok bool) {
	fallback := e.HeaderOffset + lfhLen + int64(len(e.Name)) + int64(len(e.Extra))

	b := make([]byte, lfhLen)
	if n, err := src.ReadAt(b, e.HeaderOffset); (err != nil && !errors.Is(err, io.EOF)) || n < lfhLen {
		return fallback, false
	}

	if !bytes.Equal(lfhSigBytes, b[:4]) {
		return fallback, false
	}

	nameLen := int64(binary.LittleEndian.Uint16(b[26:28]))
	extraLen := int64(binary.LittleEndian.Uint16(b[28:30]))
	return e.HeaderOffset + lfhLen + nameLen + extraLen, true
}

// DataOffset exposes localHeaderDataOffset for extraction: it resolves where
// the entry's compressed bytes begin, preferring the local file header and
// degrading to the central directory's declared lengths.
func DataOffset(src io.ReaderAt, e Entry) (offset int64, fromLocalHeader bool) {
	return localHeaderDataOffset(src, e)
}

// msDosTimeToTime converts an MS-DOS date and time into a time.Time.
// The resolution is 2s.
// See: https://learn.microsoft.com/en-us/windows/win32/api/winbase/nf-winbase-dosdatetimetofiletime
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		// date bits 0-4: day of month; 5-8: month; 9-15: years since 1980
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),

		// time bits 0-4: second/2; 5-10: minute; 11-15: hour
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0, // nanoseconds

		time.UTC,
	)
}
