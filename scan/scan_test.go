package scan

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/znuzhg/zip-fixer/internal/ziptest"
)

func TestAnalyze_CleanArchive(t *testing.T) {
	b := ziptest.Build(t,
		ziptest.File{Name: "a.txt", Body: []byte("hello world"), Method: zip.Deflate},
		ziptest.File{Name: "path/b.txt", Body: []byte("lorem ipsum dolor sit amet"), Method: zip.Deflate},
		ziptest.File{Name: "c.bin", Body: bytes.Repeat([]byte{0xab}, 4096), Method: zip.Store},
	)

	r, err := Analyze(bytes.NewReader(b), int64(len(b)))
	assert.NoError(t, err)
	assert.Empty(t, r.Defects)
	assert.False(t, r.NeedsZip64Patch)
	assert.Nil(t, r.Locator)
	assert.Equal(t, 3, r.CDCount())
	assert.Len(t, r.Entries, 3)

	names := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"a.txt", "path/b.txt", "c.bin"}, names)

	// the parsed metadata must agree with what archive/zip itself reads.
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	assert.NoError(t, err)
	for i, f := range zr.File {
		assert.Equal(t, f.CRC32, r.Entries[i].CRC32)
		assert.Equal(t, f.CompressedSize64, r.Entries[i].CompressedSize)
		assert.Equal(t, f.UncompressedSize64, r.Entries[i].UncompressedSize)
		assert.Equal(t, f.Method, r.Entries[i].Method)
	}
}

func TestAnalyze_WithComment(t *testing.T) {
	for _, commentLength := range []int{0, 1, 22, 4000, 0xffff} {
		t.Run(fmt.Sprintf("comment of %d bytes", commentLength), func(t *testing.T) {
			alphabet := "abcdefghijklmnopqrstuvwxyz0123456789"
			comment := make([]byte, commentLength)
			for i := range comment {
				comment[i] = alphabet[rand.Intn(len(alphabet))]
			}

			buf := &bytes.Buffer{}
			zw := zip.NewWriter(buf)
			w, err := zw.Create("a.txt")
			assert.NoError(t, err)
			_, err = w.Write([]byte("hello"))
			assert.NoError(t, err)
			assert.NoError(t, zw.SetComment(string(comment)))
			assert.NoError(t, zw.Close())

			b := buf.Bytes()
			r, err := Analyze(bytes.NewReader(b), int64(len(b)))
			assert.NoError(t, err)
			assert.Equal(t, string(comment), r.EOCD.Comment)
			assert.Len(t, r.Entries, 1)
		})
	}
}

func TestAnalyze_NoEOCD(t *testing.T) {
	b := bytes.Repeat([]byte("not a zip file at all. "), 100)

	_, err := Analyze(bytes.NewReader(b), int64(len(b)))
	assert.ErrorIs(t, err, ErrNoEOCD)

	_, err = Analyze(bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, ErrNoEOCD)
}

func TestAnalyze_Zip64Locator(t *testing.T) {
	tests := []struct {
		name       string
		totalDisks uint32
		needsPatch bool
	}{
		{name: "total disks 0 needs the patch", totalDisks: 0, needsPatch: true},
		{name: "total disks 1 is healthy", totalDisks: 1, needsPatch: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := ziptest.Build(t,
				ziptest.File{Name: "a.txt", Body: []byte("hello world"), Method: zip.Deflate},
				ziptest.File{Name: "b.txt", Body: []byte("second entry"), Method: zip.Store},
			)
			b = ziptest.InsertZip64(t, b, tt.totalDisks)

			r, err := Analyze(bytes.NewReader(b), int64(len(b)))
			assert.NoError(t, err)
			assert.Equal(t, tt.needsPatch, r.NeedsZip64Patch)
			assert.NotNil(t, r.Locator)
			assert.NotNil(t, r.Zip64)
			assert.Equal(t, tt.totalDisks, r.Locator.TotalDisks)
			assert.Empty(t, r.Defects)
			assert.Len(t, r.Entries, 2)

			// the patcher will write at this offset; it must point at the
			// total-disks field, 16 bytes into the locator.
			i := bytes.LastIndex(b, []byte{'P', 'K', 0x06, 0x07})
			assert.Equal(t, int64(i+16), r.Locator.TotalDisksOffset())
		})
	}
}

func TestAnalyze_Zip64RecordOutOfRange(t *testing.T) {
	b := ziptest.Build(t, ziptest.File{Name: "a.txt", Body: []byte("hello"), Method: zip.Store})
	b = ziptest.InsertZip64(t, b, 1)

	// point the locator's ZIP64 EOCD offset past end of file.
	i := bytes.LastIndex(b, []byte{'P', 'K', 0x06, 0x07})
	binary.LittleEndian.PutUint64(b[i+8:], uint64(len(b)+100))

	r, err := Analyze(bytes.NewReader(b), int64(len(b)))
	assert.NoError(t, err)
	assert.Nil(t, r.Zip64)
	assert.NotEmpty(t, r.Defects)
	// the 32-bit EOCD fields still locate the central directory.
	assert.Len(t, r.Entries, 1)
}

func TestAnalyze_HugeZip64EntryCount(t *testing.T) {
	b := ziptest.Build(t,
		ziptest.File{Name: "a.txt", Body: []byte("hello"), Method: zip.Store},
		ziptest.File{Name: "b.txt", Body: []byte("world"), Method: zip.Store},
	)
	b = ziptest.InsertZip64(t, b, 1)

	// a count this large cannot fit in any central directory; it must be
	// rejected as a defect, and the 32-bit EOCD fields still resolve the
	// entries.
	i := bytes.LastIndex(b, []byte{'P', 'K', 0x06, 0x06})
	assert.NotEqual(t, -1, i)
	binary.LittleEndian.PutUint64(b[i+32:], uint64(1)<<63)

	r, err := Analyze(bytes.NewReader(b), int64(len(b)))
	assert.NoError(t, err)
	assert.Nil(t, r.Zip64)
	assert.NotEmpty(t, r.Defects)
	assert.Equal(t, 2, r.CDCount())
	assert.Len(t, r.Entries, 2)
}

func TestAnalyze_OverstatedEntryCount(t *testing.T) {
	b := ziptest.Build(t,
		ziptest.File{Name: "a.txt", Body: []byte("hello"), Method: zip.Store},
		ziptest.File{Name: "b.txt", Body: []byte("world"), Method: zip.Store},
	)

	// a corrupt count must not cause reads past the directory region.
	i := ziptest.FindEOCD(b)
	binary.LittleEndian.PutUint16(b[i+8:], 500)
	binary.LittleEndian.PutUint16(b[i+10:], 500)

	r, err := Analyze(bytes.NewReader(b), int64(len(b)))
	assert.NoError(t, err)
	assert.Len(t, r.Entries, 2)
	assert.NotEmpty(t, r.Defects)
	assert.Equal(t, 2, r.Defects[0].EntryIndex)
}

func TestAnalyze_MalformedEntryIsDefectNotFatal(t *testing.T) {
	b := ziptest.Build(t,
		ziptest.File{Name: "a.txt", Body: []byte("hello"), Method: zip.Store},
		ziptest.File{Name: "b.txt", Body: []byte("world"), Method: zip.Store},
	)

	// wreck the second central directory entry's signature; the first entry
	// must survive and the failure must be recorded, not returned.
	i := ziptest.FindEOCD(b)
	cdOffset := int(binary.LittleEndian.Uint32(b[i+16 : i+20]))
	second := bytes.Index(b[cdOffset+4:], []byte{'P', 'K', 0x01, 0x02})
	assert.NotEqual(t, -1, second)
	copy(b[cdOffset+4+second:], []byte{0xde, 0xad, 0xbe, 0xef})

	r, err := Analyze(bytes.NewReader(b), int64(len(b)))
	assert.NoError(t, err)
	assert.Len(t, r.Entries, 1)
	assert.Equal(t, "a.txt", r.Entries[0].Name)
	assert.NotEmpty(t, r.Defects)
	assert.Equal(t, 1, r.Defects[0].EntryIndex)
}

func TestAnalyze_CDOffsetOutsideFile(t *testing.T) {
	b := ziptest.Build(t, ziptest.File{Name: "a.txt", Body: []byte("hello"), Method: zip.Store})

	i := ziptest.FindEOCD(b)
	binary.LittleEndian.PutUint32(b[i+16:], uint32(len(b)+1000))

	r, err := Analyze(bytes.NewReader(b), int64(len(b)))
	assert.NoError(t, err)
	assert.Empty(t, r.Entries)
	assert.NotEmpty(t, r.Defects)
}

func TestEntry_HasDataDescriptor(t *testing.T) {
	b := ziptest.Build(t, ziptest.File{Name: "a.txt", Body: []byte("hello"), Method: zip.Deflate})

	r, err := Analyze(bytes.NewReader(b), int64(len(b)))
	assert.NoError(t, err)

	// archive/zip streams to a non-seeking writer, so the CRC and sizes
	// are deferred to a data descriptor and bit 3 is set.
	assert.True(t, r.Entries[0].HasDataDescriptor())
	assert.False(t, Entry{Flags: 0}.HasDataDescriptor())
}

func TestDataOffset_FallsBackToCentralDirectory(t *testing.T) {
	b := ziptest.Build(t, ziptest.File{Name: "a.txt", Body: []byte("hello"), Method: zip.Store})

	r, err := Analyze(bytes.NewReader(b), int64(len(b)))
	assert.NoError(t, err)

	offset, fromLocalHeader := DataOffset(bytes.NewReader(b), r.Entries[0])
	assert.True(t, fromLocalHeader)

	// destroy the local header signature; the estimate from the central
	// directory's lengths must still land on the same offset here because
	// archive/zip stores the same name and extra in both places.
	copy(b, []byte{0, 0, 0, 0})
	fallback, fromLocalHeader := DataOffset(bytes.NewReader(b), r.Entries[0])
	assert.False(t, fromLocalHeader)
	assert.Equal(t, offset, fallback)
}
