package ataridos

import (
	"fmt"

	"github.com/retrofloppy/uft"
)

// File data chains. Every data sector ends in three link bytes: the file's
// directory index in the low six bits of the first byte with the next
// sector's high bits above them, the next sector's low byte, and the number
// of payload bytes. A zero next sector ends the chain.

type sectorLink struct {
	fileID    uint8
	next      uint16
	bytesUsed uint8
}

func parseLink(data []byte) sectorLink {
	link := data[len(data)-3:]
	return sectorLink{
		fileID:    link[0] & 0x3F,
		next:      uint16(link[0]&0xC0)<<2 | uint16(link[1]),
		bytesUsed: link[2],
	}
}

func writeLink(data []byte, link sectorLink) {
	tail := data[len(data)-3:]
	tail[0] = link.fileID&0x3F | uint8(link.next>>2)&0xC0
	tail[1] = byte(link.next)
	tail[2] = link.bytesUsed
}

// walkChain follows a file chain from start, invoking fn per sector. A
// revisited sector means a cyclic chain and is reported as corruption.
func (f *Filesystem) walkChain(
	start uint16,
	fn func(number uint16, data []byte, link sectorLink) (bool, uft.DriverError),
) uft.DriverError {
	visited := map[uint16]bool{}
	current := start
	for current != 0 {
		if visited[current] {
			return uft.ErrCorruptImage.WithMessage(fmt.Sprintf(
				"cyclic sector chain revisits %d", current))
		}
		visited[current] = true

		data, err := f.sector(current)
		if err != nil {
			return err
		}
		link := parseLink(data)
		keep, err := fn(current, data, link)
		if err != nil || !keep {
			return err
		}
		current = link.next
	}
	return nil
}

// ReadFile returns a file's contents by walking its sector chain.
func (f *Filesystem) ReadFile(name string) ([]byte, uft.DriverError) {
	entry, err := f.findEntry(name)
	if err != nil {
		return nil, err
	}
	if entry.StartSector == 0 {
		return nil, nil
	}
	var out []byte
	err = f.walkChain(entry.StartSector, func(_ uint16, data []byte, link sectorLink) (bool, uft.DriverError) {
		if int(link.bytesUsed) > len(data)-3 {
			return false, uft.ErrCorruptImage.WithMessage("sector link overclaims its payload")
		}
		out = append(out, data[:link.bytesUsed]...)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteFile creates a file. The name must be new; DOS has no overwrite.
func (f *Filesystem) WriteFile(name string, contents []byte) uft.DriverError {
	if err := f.checkWritable(); err != nil {
		return err
	}
	if _, err := f.findEntry(name); err == nil {
		return uft.ErrExists.WithMessage(fmt.Sprintf("file %q already exists", name))
	} else if !isNotFound(err) {
		return err
	}

	capacity := f.dataPerSector()
	count := (len(contents) + capacity - 1) / capacity
	if count == 0 {
		count = 1
	}
	chain := make([]uint16, count)
	for i := range chain {
		number, err := f.findFree()
		if err != nil {
			return err
		}
		if err := f.Allocate(number); err != nil {
			return err
		}
		chain[i] = number
	}

	index, err := f.addEntry(name, chain[0], uint16(count))
	if err != nil {
		return err
	}

	for i, number := range chain {
		data, derr := f.sector(number)
		if derr != nil {
			return derr
		}
		for j := range data {
			data[j] = 0
		}
		chunk := contents[i*capacity:]
		if len(chunk) > capacity {
			chunk = chunk[:capacity]
		}
		copy(data, chunk)
		link := sectorLink{fileID: index, bytesUsed: uint8(len(chunk))}
		if i+1 < len(chain) {
			link.next = chain[i+1]
		}
		writeLink(data, link)
		if derr := f.commit(number); derr != nil {
			return derr
		}
	}
	return nil
}

// Delete scratches a file and frees its chain. Locked files are refused.
func (f *Filesystem) Delete(name string) uft.DriverError {
	if err := f.checkWritable(); err != nil {
		return err
	}
	entry, err := f.findEntry(name)
	if err != nil {
		return err
	}
	if entry.Locked {
		return uft.ErrProtected.WithMessage(fmt.Sprintf("file %q is locked", name))
	}

	if entry.StartSector != 0 {
		err = f.walkChain(entry.StartSector, func(number uint16, _ []byte, _ sectorLink) (bool, uft.DriverError) {
			return true, f.Free(number)
		})
		if err != nil {
			return err
		}
	}
	return f.updateEntry(entry.Index, func(raw []byte) {
		raw[0] = flagDeleted
	})
}

// Rename gives a file a new name; the data chain is untouched.
func (f *Filesystem) Rename(oldName, newName string) uft.DriverError {
	if err := f.checkWritable(); err != nil {
		return err
	}
	wantName, wantExt, err := parseName(newName)
	if err != nil {
		return err
	}
	if _, err := f.findEntry(newName); err == nil {
		return uft.ErrExists.WithMessage(fmt.Sprintf("file %q already exists", newName))
	} else if !isNotFound(err) {
		return err
	}
	entry, err := f.findEntry(oldName)
	if err != nil {
		return err
	}
	return f.updateEntry(entry.Index, func(raw []byte) {
		copy(raw[5:13], wantName[:])
		copy(raw[13:16], wantExt[:])
	})
}

// SetLocked sets or clears a file's lock flag.
func (f *Filesystem) SetLocked(name string, locked bool) uft.DriverError {
	if err := f.checkWritable(); err != nil {
		return err
	}
	entry, err := f.findEntry(name)
	if err != nil {
		return err
	}
	return f.updateEntry(entry.Index, func(raw []byte) {
		if locked {
			raw[0] |= flagLocked
		} else {
			raw[0] &^= flagLocked
		}
	})
}
