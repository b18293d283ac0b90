package scan

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	lfhSig     = 0x04034b50
	cdfhSig    = 0x02014b50
	eocdSig    = 0x06054b50
	locatorSig = 0x07064b50
	eocd64Sig  = 0x06064b50

	lfhLen     = 30
	cdfhLen    = 46
	eocdLen    = 22
	locatorLen = 20
	eocd64Len  = 56

	sentinel16 = 0xffff
	sentinel32 = 0xffffffff

	// maxCommentLen bounds the backward search window: the EOCD may be
	// followed by at most a 16-bit length of comment bytes.
	maxCommentLen = 0xffff
)

var (
	lfhSigBytes     = putUint32(lfhSig)
	cdfhSigBytes    = putUint32(cdfhSig)
	eocdSigBytes    = putUint32(eocdSig)
	locatorSigBytes = putUint32(locatorSig)
	eocd64SigBytes  = putUint32(eocd64Sig)
)

func putUint32(v uint32) (b []byte) {
	b = make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// ErrNoEOCD is returned if no EOCD signature was found; without it nothing
// downstream is attempted.
var ErrNoEOCD = errors.New("end of central directory not found; most likely not a ZIP file")

// findEOCD searches the trailing window of src backwards for the EOCD record.
//
// The window is the last eocdLen+maxCommentLen bytes which is the farthest
// from end of file a valid EOCD signature can start.
func findEOCD(src io.ReaderAt, size int64) (r EOCDRecord, err error) {
	if size < eocdLen {
		return r, ErrNoEOCD
	}

	windowSize := min(size, int64(eocdLen+maxCommentLen))
	windowOffset := size - windowSize

	b := make([]byte, windowSize)
	switch n, err := src.ReadAt(b, windowOffset); {
	case err != nil && !errors.Is(err, io.EOF):
		return r, fmt.Errorf("find EOCD: read trailing %d bytes error: %w", windowSize, err)
	case int64(n) < windowSize:
		return r, fmt.Errorf("find EOCD: insufficient read: need %d bytes, got %d", windowSize, n)
	}

	// candidates are tried from the back; a candidate is rejected if its
	// comment length does not reach exactly end of file, which filters out
	// stray signature bytes inside comments or compressed data.
	for tail := b; ; {
		i := bytes.LastIndex(tail, eocdSigBytes)
		if i == -1 {
			return r, ErrNoEOCD
		}

		if rest := b[i:]; len(rest) >= eocdLen {
			if r, err = unmarshalEOCDRecord(([eocdLen]byte)(rest[:eocdLen]), rest[eocdLen:]); err == nil {
				r.Offset = windowOffset + int64(i)
				return r, nil
			}
		}

		tail = tail[:i]
	}
}

// unmarshalEOCDRecord decodes the 22-byte slice as a EOCDRecord. rest must
// hold the bytes between the end of the fixed part and end of file; the
// declared comment must consume all of it.
func unmarshalEOCDRecord(b [eocdLen]byte, rest []byte) (r EOCDRecord, err error) {
	data := &struct {
		Signature     uint32
		DiskNumber    uint16
		CDDiskNumber  uint16
		CDCountOnDisk uint16
		CDCount       uint16
		CDSize        uint32
		CDOffset      uint32
		CommentLength uint16
	}{}

	if !bytes.Equal(eocdSigBytes, b[:4]) {
		return r, fmt.Errorf("mismatched signature, got 0x%x, expected 0x%x", b[:4], eocdSigBytes)
	}

	if err = binary.Read(bytes.NewReader(b[:]), binary.LittleEndian, data); err != nil {
		return r, fmt.Errorf("unmarshal error: %w", err)
	}

	if int(data.CommentLength) != len(rest) {
		return r, fmt.Errorf("comment length %d does not reach end of file (%d trailing bytes)", data.CommentLength, len(rest))
	}

	return EOCDRecord{
		DiskNumber:    data.DiskNumber,
		CDDiskNumber:  data.CDDiskNumber,
		CDCountOnDisk: data.CDCountOnDisk,
		CDCount:       data.CDCount,
		CDSize:        data.CDSize,
		CDOffset:      data.CDOffset,
		Comment:       string(rest),
	}, nil
}
