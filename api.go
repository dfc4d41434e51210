package uft

import "io"

// ImageStream is the storage a plugin operates on. Disk image files opened
// from the host satisfy it via *os.File; tests and in-memory conversions use
// a bytesextra.ReadWriteSeeker. Plugins never open host files themselves.
type ImageStream interface {
	io.ReadWriteSeeker
}

// Syncer is implemented by streams that can force durability (*os.File).
type Syncer interface {
	Sync() error
}

// Truncator is implemented by streams whose size can be changed. Plugins
// that append variable-length data (G64, MSA) require it for writes.
type Truncator interface {
	Truncate(size int64) error
}

// FormatID identifies a disk-image container format, e.g. "d64" or "g64".
type FormatID string

// ProbeResult is the outcome of a pure header+size inspection.
type ProbeResult struct {
	Matched    bool
	Confidence int // 0..100
}

// FormatPlugin is the uniform contract every container format implements.
//
// Probe must be a pure function over the leading window and the file size:
// no mutation, no I/O. Open and Create take ownership of the stream on
// success; the returned DiskImage's Close releases it.
type FormatPlugin interface {
	ID() FormatID
	Name() string
	Extensions() []string
	Capabilities() Capability

	Probe(header []byte, fileSize int64) ProbeResult
	Open(stream ImageStream, readOnly bool) (*DiskImage, DriverError)
	Create(stream ImageStream, geometry Geometry) (*DiskImage, DriverError)
}

// FormatOps is the per-image operation table a plugin installs into the
// DiskImage it opens. Missing sectors must be represented with the MISSING
// status, never dropped; sector-level defects are status bits, not errors.
type FormatOps interface {
	ReadTrack(img *DiskImage, cylinder, head uint) (*Track, DriverError)
	WriteTrack(img *DiskImage, track *Track) DriverError
	Flush(img *DiskImage) DriverError
}

// MetadataOps is optionally implemented by plugins whose container carries
// free-form metadata (IMD comment, SCP footer, WOZ META chunk).
type MetadataOps interface {
	ReadMetadata(img *DiskImage, key string) (string, bool)
	WriteMetadata(img *DiskImage, key, value string) DriverError
}
