package bundle

// Limits bounds the resources a single verification pass may consume,
// guarding against archive bombs.
type Limits struct {
	// MaxTotalBytes is the maximum sum of uncompressed entry sizes.
	MaxTotalBytes int64
	// MaxFileCount is the maximum number of archive entries.
	MaxFileCount int
	// MaxEntryBytes bounds any single entry, catching a single huge
	// file before it is fully written to the sandbox.
	MaxEntryBytes int64
}

const (
	defaultMaxTotalBytes = 5 * 1024 * 1024 * 1024 // 5 GiB
	defaultMaxFileCount  = 50000
	defaultMaxEntryBytes = 2 * 1024 * 1024 * 1024 // 2 GiB
)

// DefaultLimits returns the default max_archive_size_mib (5120)
// translated to bytes, plus the companion file-count and per-entry
// bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxTotalBytes: defaultMaxTotalBytes,
		MaxFileCount:  defaultMaxFileCount,
		MaxEntryBytes: defaultMaxEntryBytes,
	}
}
