package uft

import (
	"fmt"
	"io"
)

// DiskImage is an open disk image. It exclusively owns its stream, its track
// cache and every sector buffer inside it; callers borrow sectors by
// reference and must not retain them past Close.
//
// A DiskImage is single-threaded: it must not be shared across goroutines
// without external synchronization. Distinct images are independent.
type DiskImage struct {
	Geometry Geometry
	Format   FormatID
	ReadOnly bool
	Modified bool

	stream ImageStream
	ops    FormatOps
	state  any

	// tracks[cyl][head]; nil entries are tracks not yet read or unformatted.
	tracks [][]*Track
	closed bool
}

// NewDiskImage wires up an image for a plugin. The plugin keeps its private
// parse state (index tables, BAM cache, ...) in `state` and gets it back via
// State().
func NewDiskImage(
	format FormatID,
	geometry Geometry,
	stream ImageStream,
	ops FormatOps,
	state any,
	readOnly bool,
) *DiskImage {
	tracks := make([][]*Track, geometry.Cylinders)
	for i := range tracks {
		tracks[i] = make([]*Track, geometry.Heads)
	}
	return &DiskImage{
		Geometry: geometry,
		Format:   format,
		ReadOnly: readOnly,
		stream:   stream,
		ops:      ops,
		state:    state,
		tracks:   tracks,
	}
}

// Stream returns the underlying storage. Plugin use only.
func (d *DiskImage) Stream() ImageStream { return d.stream }

// State returns the plugin-private state installed at open time.
func (d *DiskImage) State() any { return d.state }

func (d *DiskImage) checkCoordinate(cylinder, head uint) DriverError {
	if cylinder >= d.Geometry.Cylinders || head >= d.Geometry.Heads {
		return ErrOutOfRange.WithMessage(fmt.Sprintf(
			"track (%d, %d) outside geometry %dx%d",
			cylinder, head, d.Geometry.Cylinders, d.Geometry.Heads))
	}
	return nil
}

// ReadTrack returns the track at (cylinder, head), reading and caching it on
// first access. The image retains ownership of the returned track.
func (d *DiskImage) ReadTrack(cylinder, head uint) (*Track, DriverError) {
	if d.closed {
		return nil, ErrInvalidArgument.WithMessage("image is closed")
	}
	if err := d.checkCoordinate(cylinder, head); err != nil {
		return nil, err
	}
	if cached := d.tracks[cylinder][head]; cached != nil {
		return cached, nil
	}

	track, err := d.ops.ReadTrack(d, cylinder, head)
	if err != nil {
		return nil, err
	}
	d.tracks[cylinder][head] = track
	return track, nil
}

// WriteTrack persists a full track and replaces the cached copy. Fails on
// read-only images.
func (d *DiskImage) WriteTrack(track *Track) DriverError {
	if d.closed {
		return ErrInvalidArgument.WithMessage("image is closed")
	}
	if d.ReadOnly {
		return ErrReadOnlyImage
	}
	if track == nil {
		return ErrInvalidArgument.WithMessage("nil track")
	}
	if err := d.checkCoordinate(track.Cylinder, track.Head); err != nil {
		return err
	}

	if err := d.ops.WriteTrack(d, track); err != nil {
		return err
	}
	d.tracks[track.Cylinder][track.Head] = track
	d.Modified = true
	return nil
}

// ReadSector is a convenience over ReadTrack + id lookup. A sector that the
// track does not carry yields ErrOutOfRange.
func (d *DiskImage) ReadSector(cylinder, head uint, sector uint8) (*Sector, DriverError) {
	track, err := d.ReadTrack(cylinder, head)
	if err != nil {
		return nil, err
	}
	s := track.FindSector(sector)
	if s == nil {
		return nil, ErrOutOfRange.WithMessage(fmt.Sprintf(
			"no sector %d on track (%d, %d)", sector, cylinder, head))
	}
	return s, nil
}

// InvalidateTrackCache drops cached tracks so the next read hits storage.
// Plugins call this after metadata rewrites that move track data.
func (d *DiskImage) InvalidateTrackCache() {
	for c := range d.tracks {
		for h := range d.tracks[c] {
			d.tracks[c][h] = nil
		}
	}
}

// ReadMetadata looks up container metadata if the plugin supports it.
func (d *DiskImage) ReadMetadata(key string) (string, bool) {
	if m, ok := d.ops.(MetadataOps); ok {
		return m.ReadMetadata(d, key)
	}
	return "", false
}

// WriteMetadata stores container metadata if the plugin supports it.
func (d *DiskImage) WriteMetadata(key, value string) DriverError {
	if d.ReadOnly {
		return ErrReadOnlyImage
	}
	m, ok := d.ops.(MetadataOps)
	if !ok {
		return ErrNotSupported.WithMessage("format carries no metadata")
	}
	return m.WriteMetadata(d, key, value)
}

// Flush pushes pending plugin state to the stream and syncs it if the stream
// supports syncing.
func (d *DiskImage) Flush() DriverError {
	if d.closed {
		return ErrInvalidArgument.WithMessage("image is closed")
	}
	if d.ReadOnly || !d.Modified {
		return nil
	}
	if err := d.ops.Flush(d); err != nil {
		return err
	}
	if syncer, ok := d.stream.(Syncer); ok {
		if err := syncer.Sync(); err != nil {
			return ErrFileWrite.Wrap(err)
		}
	}
	d.Modified = false
	return nil
}

// Close flushes dirty read-write images, releases the stream, and leaves the
// image unusable. Idempotent.
func (d *DiskImage) Close() DriverError {
	if d.closed {
		return nil
	}

	var flushErr DriverError
	if !d.ReadOnly && d.Modified {
		flushErr = d.Flush()
	}

	d.closed = true
	d.tracks = nil
	d.state = nil

	if closer, ok := d.stream.(io.Closer); ok {
		if err := closer.Close(); err != nil && flushErr == nil {
			flushErr = ErrFileWrite.Wrap(err)
		}
	}
	d.stream = nil
	return flushErr
}
