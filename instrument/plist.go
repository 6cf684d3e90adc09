package instrument

import (
	"fmt"
	"os"

	plist "howett.net/plist"
)

const (
	signatureKey         = "CFBundleSignature"
	signaturePlaceholder = "????"
)

// TagPlist sets CFBundleSignature in the property list at path to tag,
// leaving every other field untouched. The document is written back in the
// same plist format it was read in. Tagging twice with the same value
// produces the same bytes as tagging once.
func TagPlist(path, tag string) error {
	return writeSignature(path, tag)
}

// UntagPlist resets CFBundleSignature to the stock placeholder, undoing a
// previous TagPlist.
func UntagPlist(path string) error {
	return writeSignature(path, signaturePlaceholder)
}

func writeSignature(path, value string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrMetadataIO, path, err)
	}
	doc := map[string]interface{}{}
	format, err := plist.Unmarshal(data, &doc)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrMetadataIO, path, err)
	}
	doc[signatureKey] = value
	out, err := plist.Marshal(doc, format)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrMetadataIO, path, err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrMetadataIO, path, err)
	}
	return nil
}
