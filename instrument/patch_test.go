package instrument

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	plist "howett.net/plist"
)

const demoTag = "dGNwOi8vMS4yLjMuNDo0NDQ0" // base64 of tcp://1.2.3.4:4444

// buildIPA writes a minimal well-formed archive: Payload/<bundle>/ with an
// Info.plist naming the executable and the executable itself.
func buildIPA(t *testing.T, dir string, doc map[string]interface{}, files map[string][]byte) string {
	t.Helper()
	info, err := plist.Marshal(doc, plist.XMLFormat)
	require.NoError(t, err)
	entries := map[string][]byte{
		"Payload/Demo.app/Info.plist": info,
	}
	for name, body := range files {
		entries["Payload/Demo.app/"+name] = body
	}
	path := filepath.Join(dir, "app.ipa")
	writeZip(t, path, entries)
	return path
}

// readArchive returns the contents and modes of every file entry.
func readArchive(t *testing.T, path string) (map[string][]byte, map[string]os.FileMode) {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	contents := map[string][]byte{}
	modes := map[string]os.FileMode{}
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		contents[f.Name] = data
		modes[f.Name] = f.Mode()
	}
	return contents, modes
}

func newTestPatcher(t *testing.T, tag string) *Patcher {
	t.Helper()
	dir := t.TempDir()
	hook := filepath.Join(dir, "hook")
	mussel := filepath.Join(dir, "mussel")
	require.NoError(t, os.WriteFile(hook, []byte("hook-binary"), 0644))
	require.NoError(t, os.WriteFile(mussel, []byte("mussel-binary"), 0644))
	return &Patcher{Hook: hook, Mussel: mussel, Tag: tag}
}

func TestPatchIPA(t *testing.T) {
	ipa := buildIPA(t, t.TempDir(), map[string]interface{}{
		"CFBundleExecutable": "Demo",
		"CFBundleIdentifier": "com.example.demo",
		"CFBundleSignature":  "????",
	}, map[string][]byte{
		"Demo": []byte("original-binary"),
	})

	p := newTestPatcher(t, demoTag)
	require.NoError(t, p.PatchIPA(ipa))

	contents, modes := readArchive(t, ipa)
	assert.Equal(t, []byte("original-binary"), contents["Payload/Demo.app/Demo.hooked"])
	assert.Equal(t, []byte("hook-binary"), contents["Payload/Demo.app/Demo"])
	assert.Equal(t, []byte("mussel-binary"), contents["Payload/Demo.app/mussel"])
	assert.NotZero(t, modes["Payload/Demo.app/Demo"]&0111, "replacement must be executable")
	assert.NotZero(t, modes["Payload/Demo.app/mussel"]&0111, "helper must be executable")

	doc := map[string]interface{}{}
	_, err := plist.Unmarshal(contents["Payload/Demo.app/Info.plist"], &doc)
	require.NoError(t, err)
	assert.Equal(t, demoTag, doc["CFBundleSignature"])
	assert.Equal(t, "Demo", doc["CFBundleExecutable"])
	assert.Equal(t, "com.example.demo", doc["CFBundleIdentifier"])
}

func TestPatchIPANoOpCases(t *testing.T) {
	cases := map[string]map[string][]byte{
		"no payload directory": {
			"Other/file.txt": []byte("x"),
		},
		"no app bundle": {
			"Payload/readme.txt": []byte("x"),
		},
	}
	for name, entries := range cases {
		t.Run(name, func(t *testing.T) {
			ipa := filepath.Join(t.TempDir(), "app.ipa")
			writeZip(t, ipa, entries)
			before, err := os.ReadFile(ipa)
			require.NoError(t, err)

			p := newTestPatcher(t, demoTag)
			require.NoError(t, p.PatchIPA(ipa))

			after, err := os.ReadFile(ipa)
			require.NoError(t, err)
			assert.Equal(t, before, after, "no-op must leave the archive byte-identical")
		})
	}
}

func TestPatchIPANoExecutableFieldNoOp(t *testing.T) {
	ipa := buildIPA(t, t.TempDir(), map[string]interface{}{
		"CFBundleIdentifier": "com.example.demo",
	}, nil)
	before, err := os.ReadFile(ipa)
	require.NoError(t, err)

	p := newTestPatcher(t, demoTag)
	require.NoError(t, p.PatchIPA(ipa))

	after, err := os.ReadFile(ipa)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPatchIPAUnsafeExecutableNameNoOp(t *testing.T) {
	ipa := buildIPA(t, t.TempDir(), map[string]interface{}{
		"CFBundleExecutable": "../etc/passwd",
	}, nil)
	before, err := os.ReadFile(ipa)
	require.NoError(t, err)

	p := newTestPatcher(t, demoTag)
	require.NoError(t, p.PatchIPA(ipa))

	after, err := os.ReadFile(ipa)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPatchIPAUnsafeArchive(t *testing.T) {
	ipa := filepath.Join(t.TempDir(), "bad.ipa")
	writeZip(t, ipa, map[string][]byte{
		"../evil.txt": []byte("evil"),
	})
	before, err := os.ReadFile(ipa)
	require.NoError(t, err)

	p := newTestPatcher(t, demoTag)
	err = p.PatchIPA(ipa)
	require.ErrorIs(t, err, ErrUnsafeArchiveEntry)

	after, err := os.ReadFile(ipa)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPatchIPAMissingPlist(t *testing.T) {
	ipa := filepath.Join(t.TempDir(), "app.ipa")
	writeZip(t, ipa, map[string][]byte{
		"Payload/Demo.app/Demo": []byte("binary"),
	})

	p := newTestPatcher(t, demoTag)
	err := p.PatchIPA(ipa)
	require.ErrorIs(t, err, ErrMetadataIO)
}

func TestRevertIPA(t *testing.T) {
	ipa := buildIPA(t, t.TempDir(), map[string]interface{}{
		"CFBundleExecutable": "Demo",
		"CFBundleSignature":  "????",
	}, map[string][]byte{
		"Demo": []byte("original-binary"),
	})

	p := newTestPatcher(t, demoTag)
	require.NoError(t, p.PatchIPA(ipa))
	require.NoError(t, p.RevertIPA(ipa))

	contents, _ := readArchive(t, ipa)
	assert.Equal(t, []byte("original-binary"), contents["Payload/Demo.app/Demo"])
	assert.NotContains(t, contents, "Payload/Demo.app/Demo.hooked")
	assert.NotContains(t, contents, "Payload/Demo.app/mussel")

	doc := map[string]interface{}{}
	_, err := plist.Unmarshal(contents["Payload/Demo.app/Info.plist"], &doc)
	require.NoError(t, err)
	assert.Equal(t, "????", doc["CFBundleSignature"])
}

func TestRevertIPAUnpatchedNoOp(t *testing.T) {
	ipa := buildIPA(t, t.TempDir(), map[string]interface{}{
		"CFBundleExecutable": "Demo",
	}, map[string][]byte{
		"Demo": []byte("original-binary"),
	})
	before, err := os.ReadFile(ipa)
	require.NoError(t, err)

	p := newTestPatcher(t, demoTag)
	require.NoError(t, p.RevertIPA(ipa))

	after, err := os.ReadFile(ipa)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

type countingProgress struct {
	begins, ends int
}

func (c *countingProgress) Begin(string) { c.begins++ }
func (c *countingProgress) End(string)   { c.ends++ }

func TestProgressBracketsEveryRun(t *testing.T) {
	dir := t.TempDir()
	noop := filepath.Join(dir, "noop.ipa")
	writeZip(t, noop, map[string][]byte{"Other/x": []byte("x")})
	bad := filepath.Join(dir, "bad.ipa")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0644))

	progress := &countingProgress{}
	p := newTestPatcher(t, demoTag)
	p.Progress = progress

	require.NoError(t, p.PatchIPA(noop))
	assert.Equal(t, 1, progress.begins)
	assert.Equal(t, 1, progress.ends)

	require.Error(t, p.PatchIPA(bad))
	assert.Equal(t, 2, progress.begins)
	assert.Equal(t, 2, progress.ends, "End must fire on failure paths too")
}
