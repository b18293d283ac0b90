package salvage

import "github.com/znuzhg/zip-fixer/scan"

// Status is the per-entry outcome of a recovery attempt. Per-entry faults are
// values on the Record, never errors that abort the run.
type Status int

const (
	// StatusOK means the entry was extracted in full and its CRC-32 matched.
	StatusOK Status = iota
	// StatusCRCMismatch means the entry was written but the accumulated
	// CRC-32 differs from the central directory's; the bytes are kept.
	StatusCRCMismatch
	// StatusTruncated means the entry's declared compressed data extends
	// past the end of its data region; whatever was available was written
	// and kept.
	StatusTruncated
	// StatusUnsupportedMethod means the entry uses a compression method the
	// codec cannot decode; nothing was written.
	StatusUnsupportedMethod
	// StatusUnreadable means an I/O error interrupted the entry; processing
	// continued with the next entry.
	StatusUnreadable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCRCMismatch:
		return "crc-mismatch"
	case StatusTruncated:
		return "truncated"
	case StatusUnsupportedMethod:
		return "unsupported-method"
	case StatusUnreadable:
		return "unreadable"
	default:
		return "unknown"
	}
}

// Recovered reports whether the status produced usable bytes on disk and as
// a result the entry is eligible for rebuilding.
func (s Status) Recovered() bool {
	switch s {
	case StatusOK, StatusCRCMismatch, StatusTruncated:
		return true
	default:
		return false
	}
}

// Record is the recovery outcome for one central directory entry.
type Record struct {
	// Entry is the central directory entry the record belongs to.
	Entry scan.Entry
	// Status classifies the outcome.
	Status Status
	// Path is the file written under the output directory, empty when
	// nothing was written.
	Path string
	// BytesWritten is the number of uncompressed bytes written to Path.
	BytesWritten int64
	// Err is the underlying fault for degraded statuses, nil for StatusOK.
	Err error
}
