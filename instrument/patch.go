package instrument

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Progress is notified when a pipeline run begins and ends. Begin and End
// are each invoked exactly once per run, bracketing all archive work.
type Progress interface {
	Begin(archivePath string)
	End(archivePath string)
}

// Patcher swaps an IPA's main executable for the hook binary, injects the
// mussel helper and tags Info.plist with the encoded endpoint. A Patcher
// holds no per-run state; concurrent runs against different archives are
// safe, runs against the same archive must be serialized by the caller.
type Patcher struct {
	Hook     string   // replacement for the bundle executable
	Mussel   string   // helper binary, installed as "mussel"
	Tag      string   // encoded endpoint, may be empty
	Progress Progress // optional
}

// PatchIPA patches the archive at path in place. Archives without a
// Payload directory, without an .app bundle or without a usable
// CFBundleExecutable are left byte-for-byte untouched and reported as
// success. The original executable survives as "<name>.hooked" inside the
// repacked archive.
func (p *Patcher) PatchIPA(path string) error {
	return p.run(path, p.patchBundle)
}

// RevertIPA undoes a previous PatchIPA: the preserved "<name>.hooked"
// binary is moved back over the executable, the mussel helper is removed
// and the metadata signature is reset. Archives that were never patched
// are left untouched.
func (p *Patcher) RevertIPA(path string) error {
	return p.run(path, p.revertBundle)
}

// run drives the shared pipeline: extract to a scratch directory, locate
// the bundle and its executable, apply mutate, repack. The scratch
// directory is removed on every exit path.
func (p *Patcher) run(path string, mutate func(bundle, executable string) (bool, error)) error {
	if p.Progress != nil {
		p.Progress.Begin(path)
		defer p.Progress.End(path)
	}

	scratch, err := os.MkdirTemp("", "ipahook-")
	if err != nil {
		return fmt.Errorf("%w: scratch dir: %v", ErrFilesystem, err)
	}
	defer os.RemoveAll(scratch)

	if err := SafeExtract(path, scratch); err != nil {
		return err
	}
	bundle, ok := FindBundle(scratch)
	if !ok {
		return nil
	}
	executable, ok, err := BundleExecutable(bundle)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	changed, err := mutate(bundle, executable)
	if err != nil || !changed {
		return err
	}
	return repackArchive(path, filepath.Join(scratch, payloadDirName))
}

func (p *Patcher) patchBundle(bundle, executable string) (bool, error) {
	if err := TagPlist(filepath.Join(bundle, infoPlistName), p.Tag); err != nil {
		return false, err
	}
	orig := filepath.Join(bundle, executable)
	if err := os.Rename(orig, orig+hookedSuffix); err != nil {
		return false, fmt.Errorf("%w: rename %s: %v", ErrFilesystem, executable, err)
	}
	if err := installBinary(p.Hook, orig); err != nil {
		return false, err
	}
	if err := installBinary(p.Mussel, filepath.Join(bundle, musselName)); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Patcher) revertBundle(bundle, executable string) (bool, error) {
	orig := filepath.Join(bundle, executable)
	if _, err := os.Stat(orig + hookedSuffix); err != nil {
		// nothing to revert
		return false, nil
	}
	if err := os.Rename(orig+hookedSuffix, orig); err != nil {
		return false, fmt.Errorf("%w: restore %s: %v", ErrFilesystem, executable, err)
	}
	if err := os.Remove(filepath.Join(bundle, musselName)); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("%w: remove %s: %v", ErrFilesystem, musselName, err)
	}
	if err := UntagPlist(filepath.Join(bundle, infoPlistName)); err != nil {
		return false, err
	}
	return true, nil
}

// installBinary copies src to dst and marks it world-executable.
// Permission bits of src are deliberately not carried over; the injected
// binaries must be runnable as-is once the bundle lands on a device.
func installBinary(src, dst string) error {
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("%w: install %s: %v", ErrFilesystem, filepath.Base(dst), err)
	}
	if err := os.Chmod(dst, 0777); err != nil {
		return fmt.Errorf("%w: chmod %s: %v", ErrFilesystem, filepath.Base(dst), err)
	}
	return nil
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()
	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err = io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}
