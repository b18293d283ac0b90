package zipfix

import (
	"path/filepath"
)

// StemAndExt is a variant of filepath.Ext that also returns the stem.
//
// For example, `filepath.Ext("archive.tar.gz")` would return ".gz", but
// `StemAndExt("archive.tar.gz")` returns "archive" and ".tar.gz". Only short
// extensions are recognised: if there is no `.` in the last 7 characters the
// returned ext is empty, so a suffix like ".jfif-tbnl" stays in the stem.
func StemAndExt(path string) (stem, ext string) {
	n := len(path) - 1
	for i, j := n, max(0, n-6); i >= j; i-- {
		switch path[i] {
		case '\\', '/':
			stem = path[i+1:]
			return
		case '.':
			ext = path[i:] + ext
			path = path[:i]
			n = len(path)
			i, j = n, max(0, n-6)
			continue
		}
	}

	stem = filepath.Base(path)
	return
}

// DefaultWorkDir returns the working directory the auto pipeline uses for the
// named archive when the caller does not pick one: a sibling directory named
// after the archive's stem.
func DefaultWorkDir(name string) string {
	stem, _ := StemAndExt(name)
	return filepath.Join(filepath.Dir(name), stem+"_work")
}

// DefaultExtractDir returns the extraction directory under the given work
// directory.
func DefaultExtractDir(workDir string) string {
	return filepath.Join(workDir, "extracted")
}

// DefaultRebuiltName returns the path of the rebuilt archive for the named
// source archive under the given work directory.
func DefaultRebuiltName(name, workDir string) string {
	stem, _ := StemAndExt(name)
	return filepath.Join(workDir, stem+".repacked.zip")
}
