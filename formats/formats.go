// Package formats contains one plugin per supported container format, all
// satisfying the uft.FormatPlugin contract. Images are slurped into memory
// at open time (retro floppies top out around 2 MB), mutated in place, and
// written back on flush.
package formats

import (
	"fmt"
	"io"

	"github.com/retrofloppy/uft"
)

// readImage pulls the whole stream into memory. Every plugin opens this way;
// offset math is then plain slice arithmetic with explicit bounds checks.
func readImage(stream uft.ImageStream) ([]byte, uft.DriverError) {
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return nil, uft.ErrFileSeek.Wrap(err)
	}
	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, uft.ErrFileRead.Wrap(err)
	}
	return data, nil
}

// writeImage replaces the stream's contents with data, truncating when the
// stream supports it and the image shrank.
func writeImage(stream uft.ImageStream, data []byte) uft.DriverError {
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return uft.ErrFileSeek.Wrap(err)
	}
	if _, err := stream.Write(data); err != nil {
		return uft.ErrFileWrite.Wrap(err)
	}
	if t, ok := stream.(uft.Truncator); ok {
		if err := t.Truncate(int64(len(data))); err != nil {
			return uft.ErrFileWrite.Wrap(err)
		}
	}
	return nil
}

// sizeMismatch builds the uniform error for an image whose length does not
// match its declared geometry. Plugins never pad or truncate.
func sizeMismatch(id uft.FormatID, want, got int64) uft.DriverError {
	return uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
		"%s image is %d bytes, geometry requires %d", id, got, want))
}

// checkWritable gates every write-side operation.
func checkWritable(img *uft.DiskImage) uft.DriverError {
	if img.ReadOnly {
		return uft.ErrReadOnlyImage
	}
	return nil
}

// DefaultRegistry builds the full plugin table. The registry is immutable;
// one can be shared by any number of images.
func DefaultRegistry() *uft.Registry {
	reg, err := uft.NewRegistry(
		NewADFPlugin(),
		NewATRPlugin(),
		NewD64Plugin(),
		NewD71Plugin(),
		NewD81Plugin(),
		NewG64Plugin(),
		NewMSAPlugin(),
		NewIMDPlugin(),
		NewCPCDSKPlugin(),
		NewD88Plugin(),
		NewATXPlugin(),
		NewSCPPlugin(),
		NewWOZPlugin(),
		NewRawImagePlugin(RawFamilyPC),
		NewRawImagePlugin(RawFamilyAtariST),
		NewRawImagePlugin(RawFamilyDEC),
	)
	if err != nil {
		// Only reachable through a programming error (duplicate ids).
		panic(err)
	}
	return reg
}
