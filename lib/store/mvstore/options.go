package mvstore

import (
	"time"
)

const (
	// MaxCommitIDLength is the longest accepted commit id
	MaxCommitIDLength = 64
	// MaxCommitSerialLength bounds the encoded size of one commit node
	MaxCommitSerialLength = 4096
	// MaxKeyLength is the longest accepted user key
	MaxKeyLength = 1024
	// MaxValueLength is the largest accepted value
	MaxValueLength = 4 << 20
)

// Options configures a multi-version store
type Options struct {
	// Device is the tag written into every local commit. Commits with the
	// same tag are treated as one history by the sync layer.
	Device string

	// SliceThreshold is the largest value stored inline in its row. Larger
	// values are split into BlockSize slices.
	SliceThreshold int

	// BlockSize is the size of one slice
	BlockSize int

	// CompressSlices stores slices zstd compressed. Slice hashes are always
	// computed over the uncompressed bytes.
	CompressSlices bool

	// ReadPoolSize bounds the number of concurrently open read transactions
	ReadPoolSize int

	// VacuumInterval relaunches the vacuum periodically. Zero disables the
	// timer; vacuum then only runs after writes.
	VacuumInterval time.Duration

	// OnCorruption is called once, outside of any lock, when the engine
	// reports an irrecoverable error.
	OnCorruption func(err error)

	// Now is the wall clock used for timestamps (default time.Now)
	Now func() time.Time
}

// DefaultOptions returns the default configuration
func DefaultOptions() *Options {
	return &Options{
		Device:         "local",
		SliceThreshold: 64 << 10,
		BlockSize:      64 << 10,
		ReadPoolSize:   16,
		VacuumInterval: time.Minute,
	}
}

// withDefaults fills zero fields with their defaults
func (o *Options) withDefaults() Options {
	def := DefaultOptions()
	if o == nil {
		return *def
	}
	out := *o
	if out.Device == "" {
		out.Device = def.Device
	}
	if out.SliceThreshold <= 0 {
		out.SliceThreshold = def.SliceThreshold
	}
	if out.BlockSize <= 0 {
		out.BlockSize = def.BlockSize
	}
	if out.ReadPoolSize <= 0 {
		out.ReadPoolSize = def.ReadPoolSize
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}
