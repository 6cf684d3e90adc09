package instrument

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	// archiver's zip backend hands out this package's headers, not
	// stdlib archive/zip ones.
	zip "github.com/klauspost/compress/zip"
	"github.com/mholt/archiver/v3"
)

// SafeExtract extracts the zip archive at archivePath into targetDir.
// The full entry listing is validated against the canonical (symlink
// resolved) target directory before anything is written; an archive
// containing an entry that would resolve outside targetDir is rejected
// whole with ErrUnsafeArchiveEntry and no file reaches the disk.
func SafeExtract(archivePath, targetDir string) error {
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrFilesystem, targetDir, err)
	}
	base, err := filepath.EvalSymlinks(targetDir)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", ErrFilesystem, targetDir, err)
	}
	base, err = filepath.Abs(base)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", ErrFilesystem, targetDir, err)
	}

	var entryErr error
	walkErr := archiver.NewZip().Walk(archivePath, func(f archiver.File) error {
		header, ok := f.Header.(zip.FileHeader)
		if !ok {
			entryErr = fmt.Errorf("%w: unexpected entry header %T", ErrArchiveFormat, f.Header)
			return archiver.ErrStopWalk
		}
		dest := filepath.Join(base, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(dest, base+string(os.PathSeparator)) {
			entryErr = fmt.Errorf("%w: %q", ErrUnsafeArchiveEntry, header.Name)
			return archiver.ErrStopWalk
		}
		return nil
	})
	if entryErr != nil {
		return entryErr
	}
	if walkErr != nil {
		return fmt.Errorf("%w: open %s: %v", ErrArchiveFormat, archivePath, walkErr)
	}

	if err := archiver.NewZip().Unarchive(archivePath, targetDir); err != nil {
		return fmt.Errorf("%w: extract %s: %v", ErrArchiveFormat, archivePath, err)
	}
	return nil
}

// repackArchive rebuilds the archive at archivePath from payloadDir. The
// new archive is assembled at a sibling temp path and renamed over the
// original, so a rebuild failure never destroys the input archive.
func repackArchive(archivePath, payloadDir string) error {
	tmp := archivePath + ".repack.zip"
	os.Remove(tmp)
	if err := archiver.Archive([]string{payloadDir}, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rebuild %s: %v", ErrFilesystem, archivePath, err)
	}
	if err := os.Rename(tmp, archivePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: replace %s: %v", ErrFilesystem, archivePath, err)
	}
	return nil
}
