//go:build tinygo

package nvstore

import (
	"fieldtrack/tracker/ota"
)

// StateBase is the first sector of the reserved region past partition B.
// Neither firmware partition reaches it, so updates never disturb state.
const StateBase = 0x3E2000

type romFlash struct{}

// Device returns the on-chip flash, addressed by raw flash offset.
func Device() Flash {
	return romFlash{}
}

func (romFlash) ReadAt(buf []byte, offset uint32) error {
	ota.ReadChunk(offset, buf)
	return nil
}

// WriteAt programs arbitrary spans by read-merge-programming whole
// pages: the ROM only programs 256-byte pages, and NOR programming only
// clears bits, so merging is an AND against the current contents.
func (romFlash) WriteAt(data []byte, offset uint32) error {
	var page [ota.PageSize]byte
	for len(data) > 0 {
		pageStart := offset &^ (ota.PageSize - 1)
		ota.ReadChunk(pageStart, page[:])

		idx := int(offset - pageStart)
		n := len(data)
		if n > ota.PageSize-idx {
			n = ota.PageSize - idx
		}
		for i := 0; i < n; i++ {
			page[idx+i] &= data[i]
		}
		if err := ota.WriteChunk(pageStart, page[:]); err != nil {
			return err
		}
		data = data[n:]
		offset += uint32(n)
	}
	return nil
}

func (romFlash) EraseSector(offset uint32) error {
	return ota.EraseSector(offset)
}
