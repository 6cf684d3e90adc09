package instrument

import "errors"

// Pipeline failure classes. Call sites wrap these with context via %w so
// callers can classify failures with errors.Is.
var (
	// ErrUnsafeArchiveEntry flags an archive entry whose resolved path
	// would land outside the extraction directory (zip-slip).
	ErrUnsafeArchiveEntry = errors.New("unsafe path in archive")

	// ErrArchiveFormat flags an archive that cannot be opened or parsed.
	ErrArchiveFormat = errors.New("archive cannot be parsed")

	// ErrMetadataIO flags an Info.plist that is missing, malformed or
	// cannot be written back.
	ErrMetadataIO = errors.New("bundle metadata unusable")

	// ErrFilesystem flags a failed rename, copy, chmod or archive rebuild.
	ErrFilesystem = errors.New("filesystem operation failed")
)
