// Package ziptest builds in-memory ZIP fixtures for tests, including ones
// carrying the ZIP64 locator corruption this module exists to repair.
package ziptest

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"testing"
)

// File is one fixture entry.
type File struct {
	Name string
	Body []byte
	// Method is zip.Store or zip.Deflate; zero value is zip.Store.
	Method uint16
}

// Build writes the files to an in-memory archive and returns its bytes.
func Build(t *testing.T, files ...File) []byte {
	t.Helper()

	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)

	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   f.Name,
			Method: f.Method,
		})
		if err != nil {
			t.Fatalf("create %q error: %v", f.Name, err)
		}

		if _, err = w.Write(f.Body); err != nil {
			t.Fatalf("write %q error: %v", f.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("close writer error: %v", err)
	}

	return buf.Bytes()
}

var eocdSig = []byte{'P', 'K', 0x05, 0x06}

// FindEOCD returns the offset of the last EOCD signature, or -1.
func FindEOCD(b []byte) int {
	return bytes.LastIndex(b, eocdSig)
}

// InsertZip64 rewrites the archive as a ZIP64 one by inserting a ZIP64 EOCD
// record and locator between the central directory and the EOCD. The locator
// records the given total-disks value; 0 reproduces the corruption written by
// certain sync clients, 1 is the well-formed value.
func InsertZip64(t *testing.T, b []byte, totalDisks uint32) []byte {
	t.Helper()

	eocdOff := FindEOCD(b)
	if eocdOff == -1 {
		t.Fatal("no EOCD in fixture")
	}

	count := binary.LittleEndian.Uint16(b[eocdOff+10 : eocdOff+12])
	cdSize := binary.LittleEndian.Uint32(b[eocdOff+12 : eocdOff+16])
	cdOffset := binary.LittleEndian.Uint32(b[eocdOff+16 : eocdOff+20])

	rec := make([]byte, 56)
	binary.LittleEndian.PutUint32(rec[0:], 0x06064b50)
	binary.LittleEndian.PutUint64(rec[4:], 44) // size of remaining record
	binary.LittleEndian.PutUint16(rec[12:], 45)
	binary.LittleEndian.PutUint16(rec[14:], 45)
	binary.LittleEndian.PutUint64(rec[24:], uint64(count))
	binary.LittleEndian.PutUint64(rec[32:], uint64(count))
	binary.LittleEndian.PutUint64(rec[40:], uint64(cdSize))
	binary.LittleEndian.PutUint64(rec[48:], uint64(cdOffset))

	loc := make([]byte, 20)
	binary.LittleEndian.PutUint32(loc[0:], 0x07064b50)
	binary.LittleEndian.PutUint64(loc[8:], uint64(eocdOff)) // record goes where the EOCD was
	binary.LittleEndian.PutUint32(loc[16:], totalDisks)

	out := make([]byte, 0, len(b)+len(rec)+len(loc))
	out = append(out, b[:eocdOff]...)
	out = append(out, rec...)
	out = append(out, loc...)
	out = append(out, b[eocdOff:]...)
	return out
}

// TotalDisks reads the locator's total-disks field straight from the bytes.
func TotalDisks(t *testing.T, b []byte) uint32 {
	t.Helper()

	i := bytes.LastIndex(b, []byte{'P', 'K', 0x06, 0x07})
	if i == -1 || i+20 > len(b) {
		t.Fatal("no ZIP64 locator in fixture")
	}

	return binary.LittleEndian.Uint32(b[i+16 : i+20])
}
