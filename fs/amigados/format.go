package amigados

import (
	"github.com/retrofloppy/uft"
	"github.com/retrofloppy/uft/checksum"
)

const bitsPerBitmapBlock = (blockSize - 4) * 8

// Format lays a fresh, empty AmigaDOS filesystem onto an image: bootblock
// marker, root block at the volume midpoint, and the bitmap chain directly
// after it. Existing contents are overwritten.
func Format(img *uft.DiskImage, name string, flavor Flavor) uft.DriverError {
	if img.ReadOnly {
		return uft.ErrReadOnlyImage
	}
	if img.Geometry.SectorSize != blockSize {
		return uft.ErrNotSupported.WithMessage("AmigaDOS volumes use 512-byte sectors")
	}
	if err := checkEntryName(name); err != nil {
		return err
	}

	f := &Filesystem{
		img:     img,
		flavor:  flavor,
		nblocks: uint32(img.Geometry.TotalSectors()),
	}
	f.root = f.nblocks / 2

	mapped := f.nblocks - 2
	bitmapPages := int((mapped + bitsPerBitmapBlock - 1) / bitsPerBitmapBlock)
	if bitmapPages > 25 {
		return uft.ErrNotSupported.WithMessage("volume too large for a root-resident bitmap")
	}

	// Bootblock: the DOS marker with the flavor byte, checksummed over the
	// full kilobyte even though the code area stays empty.
	boot := make([]byte, 2*blockSize)
	copy(boot, "DOS")
	boot[3] = flavor.Byte()
	bput(boot, 4, checksum.AmigaBootblock(boot))
	for half := uint32(0); half < 2; half++ {
		data, err := f.zeroedBlock(half)
		if err != nil {
			return err
		}
		copy(data, boot[half*blockSize:(half+1)*blockSize])
		if err := f.commit(half); err != nil {
			return err
		}
	}

	root, err := f.zeroedBlock(f.root)
	if err != nil {
		return err
	}
	bput(root, offType, typeHeader)
	bput(root, offHTSize, hashTableSize)
	bput(root, offBMFlag, 0xFFFFFFFF)
	for page := 0; page < bitmapPages; page++ {
		bput(root, offBMPages+page*4, f.root+1+uint32(page))
	}
	stampNow(root)
	setBlockName(root, name)
	bput(root, offSecType, secTypeRoot)
	sealBlock(root)
	if err := f.commit(f.root); err != nil {
		return err
	}

	for page := 0; page < bitmapPages; page++ {
		number := f.root + 1 + uint32(page)
		data, err := f.zeroedBlock(number)
		if err != nil {
			return err
		}
		base := uint32(page) * bitsPerBitmapBlock
		for bit := uint32(0); bit < bitsPerBitmapBlock && base+bit < mapped; bit++ {
			off := 4 + int(bit/32)*4
			bput(data, off, bget(data, off)|1<<(bit%32))
		}
		sealBitmap(data)
		if err := f.commit(number); err != nil {
			return err
		}
	}

	// Claim the root and bitmap blocks themselves.
	if err := f.setBlockFree(f.root, false); err != nil {
		return err
	}
	for page := 0; page < bitmapPages; page++ {
		if err := f.setBlockFree(f.root+1+uint32(page), false); err != nil {
			return err
		}
	}
	return nil
}
