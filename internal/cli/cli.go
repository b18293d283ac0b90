// Package cli implements the zipfix commands: check, fixzip64, extract,
// rebuild, and auto.
package cli

import (
	"log"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/znuzhg/zip-fixer/salvage"
	"github.com/znuzhg/zip-fixer/scan"
)

func methodName(method uint16) string {
	switch method {
	case 0:
		return "STORE"
	case 8:
		return "DEFLATE"
	default:
		return strconv.Itoa(int(method))
	}
}

// printReport logs the structural report the way check mode displays it: one
// line per entry plus defects and the patch verdict.
func printReport(r *scan.Report) {
	log.Printf("found %d of %d declared entries (central directory of %s at 0x%x)",
		len(r.Entries), r.CDCount(), humanize.Bytes(uint64(r.CDSize())), r.CDOffset())

	for _, e := range r.Entries {
		var note string
		if e.HasDataDescriptor() {
			note = ", streamed"
		}
		log.Printf("  - %s | %s (comp: %s, type=%s, flags=0x%04x%s)",
			e.Name,
			humanize.Bytes(e.UncompressedSize),
			humanize.Bytes(e.CompressedSize),
			methodName(e.Method),
			e.Flags,
			note)
	}

	if r.Locator != nil {
		log.Printf("ZIP64 locator at 0x%x: zip64 EOCD at 0x%x, total disks = %d",
			r.Locator.Offset, r.Locator.EOCD64Offset, r.Locator.TotalDisks)
	}

	for _, d := range r.Defects {
		if d.EntryIndex >= 0 {
			log.Printf("defect (entry %d): %s", d.EntryIndex, d.Reason)
		} else {
			log.Printf("defect: %s", d.Reason)
		}
	}

	if r.NeedsZip64Patch {
		log.Printf("ZIP64 locator total-disks field is 0; run fixzip64 to repair")
	} else {
		log.Printf("no ZIP64 patch needed")
	}
}

// summarize logs the per-entry recovery outcomes followed by a tally.
func summarize(records []salvage.Record) {
	var counts [5]int
	for _, rec := range records {
		counts[rec.Status]++

		switch rec.Status {
		case salvage.StatusOK:
		default:
			log.Printf("  - %s: %s (%s written): %v",
				rec.Entry.Name, rec.Status, humanize.Bytes(uint64(rec.BytesWritten)), rec.Err)
		}
	}

	log.Printf("recovered %d/%d entries (%d ok, %d crc-mismatch, %d truncated, %d unsupported, %d unreadable)",
		counts[salvage.StatusOK]+counts[salvage.StatusCRCMismatch]+counts[salvage.StatusTruncated],
		len(records),
		counts[salvage.StatusOK],
		counts[salvage.StatusCRCMismatch],
		counts[salvage.StatusTruncated],
		counts[salvage.StatusUnsupportedMethod],
		counts[salvage.StatusUnreadable])
}

// totalUncompressed sums the declared uncompressed sizes for progress display.
func totalUncompressed(r *scan.Report) (size int64) {
	for _, e := range r.Entries {
		if !e.IsDir() {
			size += int64(e.UncompressedSize)
		}
	}
	return
}
