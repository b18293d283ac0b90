package scan

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// findLocator probes for the ZIP64 EOCD locator at its fixed position, the
// locatorLen bytes immediately preceding the EOCD signature. Returns nil with
// no error when the bytes there are not a locator.
func findLocator(src io.ReaderAt, eocdOffset int64) (*Zip64Locator, error) {
	offset := eocdOffset - locatorLen
	if offset < 0 {
		return nil, nil
	}

	b := make([]byte, locatorLen)
	switch n, err := src.ReadAt(b, offset); {
	case err != nil && !errors.Is(err, io.EOF):
		return nil, fmt.Errorf("find ZIP64 locator: read at 0x%x error: %w", offset, err)
	case n < locatorLen:
		return nil, fmt.Errorf("find ZIP64 locator: insufficient read: need %d bytes, got %d", locatorLen, n)
	}

	if !bytes.Equal(locatorSigBytes, b[:4]) {
		return nil, nil
	}

	data := &struct {
		Signature    uint32
		EOCD64Disk   uint32
		EOCD64Offset uint64
		TotalDisks   uint32
	}{}
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("find ZIP64 locator: unmarshal error: %w", err)
	}

	return &Zip64Locator{
		EOCD64Disk:   data.EOCD64Disk,
		EOCD64Offset: data.EOCD64Offset,
		TotalDisks:   data.TotalDisks,
		Offset:       offset,
	}, nil
}

// readZip64Record parses the ZIP64 EOCD record at the offset recorded in the
// locator. Every field derived from the file is validated against the file
// length before anything downstream uses it.
func readZip64Record(src io.ReaderAt, loc *Zip64Locator, size int64) (*Zip64Record, error) {
	offset := int64(loc.EOCD64Offset)
	if offset < 0 || offset+eocd64Len > size {
		return nil, fmt.Errorf("ZIP64 EOCD offset 0x%x does not fit in file of %d bytes", loc.EOCD64Offset, size)
	}

	b := make([]byte, eocd64Len)
	switch n, err := src.ReadAt(b, offset); {
	case err != nil && !errors.Is(err, io.EOF):
		return nil, fmt.Errorf("read ZIP64 EOCD at 0x%x error: %w", offset, err)
	case n < eocd64Len:
		return nil, fmt.Errorf("read ZIP64 EOCD: insufficient read: need %d bytes, got %d", eocd64Len, n)
	}

	if !bytes.Equal(eocd64SigBytes, b[:4]) {
		return nil, fmt.Errorf("mismatched ZIP64 EOCD signature at 0x%x, got 0x%x, expected 0x%x", offset, b[:4], eocd64SigBytes)
	}

	data := &struct {
		Signature      uint32
		Size           uint64
		CreatorVersion uint16
		ReaderVersion  uint16
		DiskNumber     uint32
		CDDiskNumber   uint32
		CDCountOnDisk  uint64
		CDCount        uint64
		CDSize         uint64
		CDOffset       uint64
	}{}
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("read ZIP64 EOCD: unmarshal error: %w", err)
	}

	switch {
	case data.CDOffset > uint64(size):
		return nil, fmt.Errorf("ZIP64 central directory offset 0x%x beyond file of %d bytes", data.CDOffset, size)
	case data.CDSize > uint64(size)-data.CDOffset:
		return nil, fmt.Errorf("ZIP64 central directory of %d bytes at 0x%x overruns file of %d bytes", data.CDSize, data.CDOffset, size)
	case data.CDCount > data.CDSize/cdfhLen:
		// each entry is at least cdfhLen bytes, so a count past this bound
		// cannot be real no matter what the directory holds.
		return nil, fmt.Errorf("ZIP64 entry count %d cannot fit in central directory of %d bytes", data.CDCount, data.CDSize)
	}

	return &Zip64Record{
		Size:           data.Size,
		CreatorVersion: data.CreatorVersion,
		ReaderVersion:  data.ReaderVersion,
		DiskNumber:     data.DiskNumber,
		CDDiskNumber:   data.CDDiskNumber,
		CDCountOnDisk:  data.CDCountOnDisk,
		CDCount:        data.CDCount,
		CDSize:         data.CDSize,
		CDOffset:       data.CDOffset,
		Offset:         offset,
	}, nil
}

// resolveZip64Extra walks the entry's extra field for the ZIP64 tag (0x0001)
// and replaces whichever of the entry's sizes and header offset carry the
// sentinel value. Field order within the tag follows APPNOTE 4.5.3: only the
// fields that are sentinels in the fixed header are present, in the order
// uncompressed size, compressed size, header offset.
func resolveZip64Extra(e *Entry, uncompressed, compressed, headerOffset bool) {
	const zip64ExtraTag = 0x0001

	b := e.Extra
	for len(b) >= 4 {
		tag := binary.LittleEndian.Uint16(b[:2])
		n := int(binary.LittleEndian.Uint16(b[2:4]))
		b = b[4:]
		if n > len(b) {
			return
		}

		if tag != zip64ExtraTag {
			b = b[n:]
			continue
		}

		v := b[:n]
		if uncompressed && len(v) >= 8 {
			e.UncompressedSize = binary.LittleEndian.Uint64(v)
			v = v[8:]
		}
		if compressed && len(v) >= 8 {
			e.CompressedSize = binary.LittleEndian.Uint64(v)
			v = v[8:]
		}
		if headerOffset && len(v) >= 8 {
			e.HeaderOffset = int64(binary.LittleEndian.Uint64(v))
		}
		return
	}
}
