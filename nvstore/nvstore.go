// Package nvstore is a small flash-backed key/value store for boot
// state. It lives in a single 4KB sector and trades wear-leveling for
// simplicity: each Set burns one 32-byte slot, and a full sector is
// reported so the caller can reformat.
package nvstore

import (
	"encoding/binary"
	"errors"
)

const (
	headerSize = 32
	slotSize   = 32
	SlotCount  = 127 // (4096 - headerSize) / slotSize

	KeyMax   = 12
	ValueMax = 16

	layoutVersion = 1

	// Slot states. NOR programming only clears bits, so the lifecycle
	// is one-way: free (erased) -> live -> dead.
	stateFree = 0xFF
	stateLive = 0xA5
	stateDead = 0x00

	keyOff = 3
	valOff = keyOff + KeyMax
)

var magic = [4]byte{'F', 'T', 'N', 'V'}

var (
	// ErrVersionMismatch means the header is absent, foreign or from a
	// different layout; the sector needs a Format before use.
	ErrVersionMismatch = errors.New("nvstore: layout version mismatch")
	// ErrNoFreePages means every slot has been consumed.
	ErrNoFreePages = errors.New("nvstore: no free pages")

	ErrNotFound    = errors.New("nvstore: key not found")
	ErrKeyLength   = errors.New("nvstore: key empty or too long")
	ErrValueLength = errors.New("nvstore: value too long")
)

// Flash is the sector-erasable device the store sits on. WriteAt must
// honor NOR semantics: programming can only clear bits.
type Flash interface {
	ReadAt(buf []byte, offset uint32) error
	WriteAt(data []byte, offset uint32) error
	EraseSector(offset uint32) error
}

// Store is an open state sector.
type Store struct {
	dev  Flash
	base uint32
}

// Format erases the sector and writes a fresh header. Everything
// previously stored is gone.
func Format(dev Flash, base uint32) error {
	if err := dev.EraseSector(base); err != nil {
		return err
	}
	var hdr [headerSize]byte
	for i := range hdr {
		hdr[i] = 0xFF
	}
	copy(hdr[:4], magic[:])
	hdr[4] = layoutVersion
	return dev.WriteAt(hdr[:], base)
}

// Open validates the sector header and returns the store. A blank or
// foreign sector comes back as ErrVersionMismatch, a fully consumed one
// as ErrNoFreePages; both are the caller's cue to Format once and retry.
func Open(dev Flash, base uint32) (*Store, error) {
	var hdr [headerSize]byte
	if err := dev.ReadAt(hdr[:], base); err != nil {
		return nil, err
	}
	for i := range magic {
		if hdr[i] != magic[i] {
			return nil, ErrVersionMismatch
		}
	}
	if hdr[4] != layoutVersion {
		return nil, ErrVersionMismatch
	}
	s := &Store{dev: dev, base: base}
	if s.FreeSlots() == 0 {
		return nil, ErrNoFreePages
	}
	return s, nil
}

func (s *Store) slotOff(i int) uint32 {
	return s.base + headerSize + uint32(i)*slotSize
}

// FreeSlots counts slots still in the erased state.
func (s *Store) FreeSlots() int {
	var st [1]byte
	n := 0
	for i := 0; i < SlotCount; i++ {
		if s.dev.ReadAt(st[:], s.slotOff(i)) != nil {
			continue
		}
		if st[0] == stateFree {
			n++
		}
	}
	return n
}

// findLive returns the slot index holding the live entry for key, with
// the slot contents in buf, or -1 when no live entry exists.
func (s *Store) findLive(key string, buf *[slotSize]byte) int {
	for i := 0; i < SlotCount; i++ {
		if s.dev.ReadAt(buf[:], s.slotOff(i)) != nil {
			continue
		}
		if buf[0] != stateLive {
			continue
		}
		kl := int(buf[1])
		if kl != len(key) || kl > KeyMax {
			continue
		}
		if string(buf[keyOff:keyOff+kl]) == key {
			return i
		}
	}
	return -1
}

func (s *Store) findFree() int {
	var st [1]byte
	for i := 0; i < SlotCount; i++ {
		if s.dev.ReadAt(st[:], s.slotOff(i)) != nil {
			continue
		}
		if st[0] == stateFree {
			return i
		}
	}
	return -1
}

// Get copies the value for key into buf and returns its length.
func (s *Store) Get(key string, buf []byte) (int, error) {
	var slot [slotSize]byte
	if s.findLive(key, &slot) < 0 {
		return 0, ErrNotFound
	}
	n := int(slot[2])
	if n > ValueMax {
		n = ValueMax
	}
	return copy(buf, slot[valOff:valOff+n]), nil
}

// Set writes key=value into a fresh slot, then retires the previous
// entry for the key if one exists.
func (s *Store) Set(key string, value []byte) error {
	if len(key) == 0 || len(key) > KeyMax {
		return ErrKeyLength
	}
	if len(value) > ValueMax {
		return ErrValueLength
	}
	var old [slotSize]byte
	oldIdx := s.findLive(key, &old)

	free := s.findFree()
	if free < 0 {
		return ErrNoFreePages
	}

	var slot [slotSize]byte
	for i := range slot {
		slot[i] = 0xFF
	}
	slot[0] = stateLive
	slot[1] = byte(len(key))
	slot[2] = byte(len(value))
	copy(slot[keyOff:], key)
	copy(slot[valOff:], value)
	if err := s.dev.WriteAt(slot[:], s.slotOff(free)); err != nil {
		return err
	}
	if oldIdx >= 0 && oldIdx != free {
		return s.retire(oldIdx)
	}
	return nil
}

// Delete retires the live entry for key. Missing keys are not an error.
func (s *Store) Delete(key string) error {
	var slot [slotSize]byte
	idx := s.findLive(key, &slot)
	if idx < 0 {
		return nil
	}
	return s.retire(idx)
}

func (s *Store) retire(idx int) error {
	dead := [1]byte{stateDead}
	return s.dev.WriteAt(dead[:], s.slotOff(idx))
}

// GetUint32 reads a little-endian counter value; ok is false when the
// key is absent or not 4 bytes.
func (s *Store) GetUint32(key string) (v uint32, ok bool) {
	var buf [ValueMax]byte
	n, err := s.Get(key, buf[:])
	if err != nil || n != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[:4]), true
}

// SetUint32 stores a little-endian counter value.
func (s *Store) SetUint32(key string, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return s.Set(key, buf[:])
}
