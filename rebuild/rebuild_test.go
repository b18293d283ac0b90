package rebuild

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/znuzhg/zip-fixer/salvage"
	"github.com/znuzhg/zip-fixer/scan"
)

// record writes body under dir and returns a salvage record for it.
func record(t *testing.T, dir, name string, body []byte, status salvage.Status) salvage.Record {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("create parent directory error: %v", err)
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatalf("write recovered file error: %v", err)
	}

	return salvage.Record{
		Entry:        scan.Entry{Name: name},
		Status:       status,
		Path:         path,
		BytesWritten: int64(len(body)),
	}
}

func readArchive(t *testing.T, b []byte) map[string][]byte {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("open rebuilt archive error: %v", err)
	}

	contents := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		r, err := f.Open()
		if err != nil {
			t.Fatalf("open %q error: %v", f.Name, err)
		}

		body, err := io.ReadAll(r)
		_ = r.Close()
		if err != nil {
			t.Fatalf("read %q error: %v", f.Name, err)
		}

		contents[f.Name] = body
	}

	return contents
}

func TestRebuild(t *testing.T) {
	dir := t.TempDir()

	records := []salvage.Record{
		record(t, dir, "a.txt", []byte("intact"), salvage.StatusOK),
		record(t, dir, "sub/b.bin", []byte("checksum was off but bytes exist"), salvage.StatusCRCMismatch),
		record(t, dir, "c.dat", []byte("partial"), salvage.StatusTruncated),
		{Entry: scan.Entry{Name: "gone.txt"}, Status: salvage.StatusUnreadable},
		{Entry: scan.Entry{Name: "odd.bin"}, Status: salvage.StatusUnsupportedMethod},
		{Entry: scan.Entry{Name: "sub/"}, Status: salvage.StatusOK, Path: filepath.Join(dir, "sub")},
	}

	buf := &bytes.Buffer{}
	res, err := Rebuild(context.Background(), dir, records, buf)
	assert.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "sub/b.bin", "c.dat"}, res.Included)
	assert.Empty(t, res.Skipped)

	// everything that left bytes on disk is in the new archive, with those
	// exact bytes; the rest is absent.
	contents := readArchive(t, buf.Bytes())
	assert.Equal(t, map[string][]byte{
		"a.txt":     []byte("intact"),
		"sub/b.bin": []byte("checksum was off but bytes exist"),
		"c.dat":     []byte("partial"),
	}, contents)
}

func TestRebuild_SkipsMissingFile(t *testing.T) {
	dir := t.TempDir()

	records := []salvage.Record{
		record(t, dir, "a.txt", []byte("still here"), salvage.StatusOK),
		{
			Entry:  scan.Entry{Name: "vanished.txt"},
			Status: salvage.StatusOK,
			Path:   filepath.Join(dir, "vanished.txt"),
		},
	}

	buf := &bytes.Buffer{}
	res, err := Rebuild(context.Background(), dir, records, buf)
	assert.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, res.Included)

	if assert.Len(t, res.Skipped, 1) {
		assert.Equal(t, "vanished.txt", res.Skipped[0].Record.Entry.Name)
		assert.ErrorIs(t, res.Skipped[0].Err, os.ErrNotExist)
	}

	contents := readArchive(t, buf.Bytes())
	assert.Len(t, contents, 1)
	assert.Equal(t, []byte("still here"), contents["a.txt"])
}

func TestRebuild_NoEligibleRecords(t *testing.T) {
	buf := &bytes.Buffer{}
	res, err := Rebuild(context.Background(), t.TempDir(), []salvage.Record{
		{Entry: scan.Entry{Name: "gone.txt"}, Status: salvage.StatusUnreadable},
	}, buf)
	assert.NoError(t, err)
	assert.Empty(t, res.Included)
	assert.Empty(t, res.Skipped)

	// still a well-formed, just empty, archive.
	assert.Empty(t, readArchive(t, buf.Bytes()))
}

func TestRebuild_NoCompression(t *testing.T) {
	dir := t.TempDir()
	body := bytes.Repeat([]byte("0123456789"), 100)
	records := []salvage.Record{record(t, dir, "a.bin", body, salvage.StatusOK)}

	buf := &bytes.Buffer{}
	_, err := Rebuild(context.Background(), dir, records, buf, WithNoCompression)
	assert.NoError(t, err)

	assert.Equal(t, map[string][]byte{"a.bin": body}, readArchive(t, buf.Bytes()))
	assert.Greater(t, buf.Len(), len(body), "stored data must not shrink")
}

func TestRebuild_Cancelled(t *testing.T) {
	dir := t.TempDir()
	records := []salvage.Record{record(t, dir, "a.txt", []byte("hello"), salvage.StatusOK)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Rebuild(ctx, dir, records, &bytes.Buffer{}, WithNoCompression)
	assert.True(t, errors.Is(err, context.Canceled))
}
