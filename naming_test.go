package zipfix

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStemAndExt(t *testing.T) {
	tests := []struct {
		path, stem, ext string
	}{
		{path: "archive.zip", stem: "archive", ext: ".zip"},
		{path: "archive.tar.gz", stem: "archive", ext: ".tar.gz"},
		{path: "/path/to/archive.zip", stem: "archive", ext: ".zip"},
		{path: "archive.jfif-tbnl", stem: "archive.jfif-tbnl", ext: ""},
		{path: "no-ext", stem: "no-ext", ext: ""},
		{path: "photos.mhtml.s3", stem: "photos", ext: ".mhtml.s3"},
	}

	for _, test := range tests {
		t.Run(test.path, func(t *testing.T) {
			stem, ext := StemAndExt(test.path)
			assert.Equal(t, test.stem, stem)
			assert.Equal(t, test.ext, ext)
		})
	}
}

func TestDefaultNames(t *testing.T) {
	name := filepath.Join("some", "dir", "photos.zip")
	workDir := DefaultWorkDir(name)

	assert.Equal(t, filepath.Join("some", "dir", "photos_work"), workDir)
	assert.Equal(t, filepath.Join("some", "dir", "photos_work", "extracted"), DefaultExtractDir(workDir))
	assert.Equal(t, filepath.Join("some", "dir", "photos_work", "photos.repacked.zip"), DefaultRebuiltName(name, workDir))
}
