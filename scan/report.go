package scan

import (
	"strings"
	"time"
)

// EOCDRecord models the end of central directory record of a ZIP file.
//
// See https://en.wikipedia.org/wiki/ZIP_(file_format)#End_of_central_directory_record_(EOCD).
type EOCDRecord struct {
	// DiskNumber is number of this disk (or 0xffff for ZIP64).
	DiskNumber uint16
	// CDDiskNumber is disk where central directory starts (or 0xffff for ZIP64).
	CDDiskNumber uint16
	// CDCountOnDisk is the number of central directory records on this disk (or 0xffff for ZIP64).
	CDCountOnDisk uint16
	// CDCount is the total number of central directory records (or 0xffff for ZIP64).
	CDCount uint16
	// CDSize is size of central directory in bytes (or 0xffffffff for ZIP64).
	CDSize uint32
	// CDOffset is offset of start of central directory, relative to start of archive (or 0xffffffff for ZIP64).
	CDOffset uint32
	// Comment is the comment section of the EOCD.
	Comment string
	// Offset is the file offset at which the EOCD signature was found.
	Offset int64
}

// zip64 reports whether any of the record's fields carry the ZIP64 sentinel
// value and as a result the real value must come from the ZIP64 EOCD record.
func (r EOCDRecord) zip64() bool {
	return r.DiskNumber == sentinel16 ||
		r.CDCountOnDisk == sentinel16 ||
		r.CDCount == sentinel16 ||
		r.CDSize == sentinel32 ||
		r.CDOffset == sentinel32
}

// Zip64Locator models the ZIP64 end of central directory locator, the fixed
// 20-byte record immediately preceding the EOCD in ZIP64 archives.
type Zip64Locator struct {
	// EOCD64Disk is the number of the disk holding the ZIP64 EOCD record.
	EOCD64Disk uint32
	// EOCD64Offset is the file offset of the ZIP64 EOCD record.
	EOCD64Offset uint64
	// TotalDisks is the total number of disks; exactly 1 for a well-formed
	// single-volume archive. Certain producers write 0 here which strict
	// readers reject.
	TotalDisks uint32
	// Offset is the file offset at which the locator signature was found.
	Offset int64
}

// TotalDisksOffset returns the file offset of the locator's 4-byte
// total-number-of-disks field.
func (l Zip64Locator) TotalDisksOffset() int64 {
	return l.Offset + 16
}

// Zip64Record models the ZIP64 end of central directory record.
type Zip64Record struct {
	// Size is the size of this record minus the leading 12 bytes.
	Size uint64
	// CreatorVersion is version made by.
	CreatorVersion uint16
	// ReaderVersion is version needed to extract.
	ReaderVersion uint16
	// DiskNumber is number of this disk.
	DiskNumber uint32
	// CDDiskNumber is disk where central directory starts.
	CDDiskNumber uint32
	// CDCountOnDisk is the number of central directory records on this disk.
	CDCountOnDisk uint64
	// CDCount is the total number of central directory records.
	CDCount uint64
	// CDSize is size of central directory in bytes.
	CDSize uint64
	// CDOffset is offset of start of central directory, relative to start of archive.
	CDOffset uint64
	// Offset is the file offset at which the record signature was found.
	Offset int64
}

// Entry is one central directory file header.
//
// The central directory is the source of truth for extraction; the redundant
// local file header is consulted only to locate the start of compressed data.
type Entry struct {
	// Name is the file path in the archive, always slash-separated.
	// Corrupt archives may repeat names; uniqueness is not assumed.
	Name string
	// Method is the compression method (0 store, 8 deflate).
	Method uint16
	// Flags is the general-purpose bit flags.
	Flags uint16
	// CRC32 is the declared CRC-32 of the uncompressed data.
	CRC32 uint32
	// CompressedSize is the declared size of the compressed data, after
	// ZIP64 extra field resolution.
	CompressedSize uint64
	// UncompressedSize is the declared size of the uncompressed data, after
	// ZIP64 extra field resolution.
	UncompressedSize uint64
	// HeaderOffset is the file offset of the entry's local file header,
	// after ZIP64 extra field resolution.
	HeaderOffset int64
	// ExternalAttrs is the external file attributes.
	ExternalAttrs uint32
	// Modified is the modification timestamp at MS-DOS 2-second resolution.
	Modified time.Time
	// Comment is the per-entry comment.
	Comment string
	// Extra is the raw extra field.
	Extra []byte
}

// IsDir reports whether the entry is a directory placeholder.
func (e Entry) IsDir() bool {
	return strings.HasSuffix(e.Name, "/")
}

// HasDataDescriptor reports whether the entry's CRC and sizes were deferred
// to a data descriptor trailing the compressed data.
func (e Entry) HasDataDescriptor() bool {
	return e.Flags&0x8 != 0
}

// Defect records a structural inconsistency that did not abort analysis.
type Defect struct {
	// EntryIndex is the index of the central directory entry the defect
	// belongs to, or -1 for archive-level defects.
	EntryIndex int
	// Offset is the file offset the defect was detected at, when known.
	Offset int64
	// Reason describes the inconsistency.
	Reason string
}

// Report is the immutable result of analyzing an archive. It is never
// mutated after Analyze returns; corrections are expressed as byte patches
// against the underlying file instead.
type Report struct {
	// FileSize is the archive length at analysis time.
	FileSize int64
	// EOCD is the end of central directory record, the root of trust.
	EOCD EOCDRecord
	// Locator is the ZIP64 EOCD locator, nil when absent.
	Locator *Zip64Locator
	// Zip64 is the ZIP64 EOCD record, nil when absent or unreadable.
	Zip64 *Zip64Record
	// Entries are the central directory entries in on-disk order, possibly
	// fewer than the declared count when the directory is damaged.
	Entries []Entry
	// Defects are the structural inconsistencies found along the way.
	Defects []Defect
	// NeedsZip64Patch is true when the locator is present with
	// TotalDisks == 0, the known corruption this tool repairs.
	NeedsZip64Patch bool
}

// CDOffset returns the resolved central directory offset, preferring the
// ZIP64 record over the EOCD.
func (r *Report) CDOffset() int64 {
	if r.Zip64 != nil {
		return int64(r.Zip64.CDOffset)
	}
	return int64(r.EOCD.CDOffset)
}

// CDSize returns the resolved central directory size in bytes.
func (r *Report) CDSize() int64 {
	if r.Zip64 != nil {
		return int64(r.Zip64.CDSize)
	}
	return int64(r.EOCD.CDSize)
}

// CDCount returns the resolved total number of central directory records.
func (r *Report) CDCount() int {
	if r.Zip64 != nil {
		return int(r.Zip64.CDCount)
	}
	return int(r.EOCD.CDCount)
}

func (r *Report) addDefect(index int, offset int64, reason string) {
	r.Defects = append(r.Defects, Defect{EntryIndex: index, Offset: offset, Reason: reason})
}
