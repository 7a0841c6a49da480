package nvstore

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

// memFlash models one 4KB NOR sector: erase sets every bit, programming
// can only clear bits.
type memFlash struct {
	buf [4096]byte
}

func newMemFlash() *memFlash {
	f := &memFlash{}
	for i := range f.buf {
		f.buf[i] = 0xFF
	}
	return f
}

func (f *memFlash) ReadAt(buf []byte, offset uint32) error {
	copy(buf, f.buf[offset:])
	return nil
}

func (f *memFlash) WriteAt(data []byte, offset uint32) error {
	for i, b := range data {
		f.buf[int(offset)+i] &= b
	}
	return nil
}

func (f *memFlash) EraseSector(offset uint32) error {
	for i := range f.buf {
		f.buf[i] = 0xFF
	}
	return nil
}

func openFresh(t *testing.T) (*memFlash, *Store) {
	t.Helper()
	dev := newMemFlash()
	if err := Format(dev, 0); err != nil {
		t.Fatalf("Format: %v", err)
	}
	s, err := Open(dev, 0)
	if err != nil {
		t.Fatalf("Open after Format: %v", err)
	}
	return dev, s
}

func TestOpenBlankSector(t *testing.T) {
	dev := newMemFlash()
	if _, err := Open(dev, 0); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("Open on blank sector = %v, want ErrVersionMismatch", err)
	}
}

func TestOpenVersionMismatch(t *testing.T) {
	dev, _ := openFresh(t)
	dev.buf[4] = layoutVersion + 1 // direct poke: simulate older layout
	if _, err := Open(dev, 0); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("Open with bad version = %v, want ErrVersionMismatch", err)
	}
}

func TestSetGetDelete(t *testing.T) {
	_, s := openFresh(t)

	if err := s.Set("boots", []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var buf [ValueMax]byte
	n, err := s.Get("boots", buf[:])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte{1, 2, 3, 4}) {
		t.Errorf("Get = %v", buf[:n])
	}

	if err := s.Delete("boots"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("boots", buf[:]); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}

	// Deleting a missing key is a no-op.
	if err := s.Delete("absent"); err != nil {
		t.Errorf("Delete absent key = %v", err)
	}
}

func TestSetReplacesAndBurnsSlot(t *testing.T) {
	_, s := openFresh(t)

	before := s.FreeSlots()
	if before != SlotCount {
		t.Fatalf("FreeSlots on fresh store = %d, want %d", before, SlotCount)
	}
	if err := s.Set("outcome", []byte("continue")); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("outcome", []byte("restart")); err != nil {
		t.Fatal(err)
	}

	var buf [ValueMax]byte
	n, err := s.Get("outcome", buf[:])
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "restart" {
		t.Errorf("Get after overwrite = %q, want restart", buf[:n])
	}
	// Each Set consumes one slot; the replaced entry is retired, not freed.
	if got := s.FreeSlots(); got != before-2 {
		t.Errorf("FreeSlots = %d, want %d", got, before-2)
	}
}

func TestSlotExhaustion(t *testing.T) {
	dev, s := openFresh(t)

	for i := 0; i < SlotCount; i++ {
		if err := s.Set(fmt.Sprintf("k%d", i), []byte{byte(i)}); err != nil {
			t.Fatalf("Set %d: %v", i, err)
		}
	}
	if err := s.Set("overflow", []byte{0}); !errors.Is(err, ErrNoFreePages) {
		t.Fatalf("Set on full store = %v, want ErrNoFreePages", err)
	}
	// A full sector is also rejected at Open so boot can reformat.
	if _, err := Open(dev, 0); !errors.Is(err, ErrNoFreePages) {
		t.Fatalf("Open on full store = %v, want ErrNoFreePages", err)
	}
	// Format recovers it.
	if err := Format(dev, 0); err != nil {
		t.Fatal(err)
	}
	s2, err := Open(dev, 0)
	if err != nil {
		t.Fatalf("Open after reformat: %v", err)
	}
	if got := s2.FreeSlots(); got != SlotCount {
		t.Errorf("FreeSlots after reformat = %d, want %d", got, SlotCount)
	}
}

func TestKeyAndValueLimits(t *testing.T) {
	_, s := openFresh(t)

	if err := s.Set("", []byte{1}); !errors.Is(err, ErrKeyLength) {
		t.Errorf("empty key: %v", err)
	}
	if err := s.Set("thirteen-char", []byte{1}); !errors.Is(err, ErrKeyLength) {
		t.Errorf("oversize key: %v", err)
	}
	if err := s.Set("k", make([]byte, ValueMax+1)); !errors.Is(err, ErrValueLength) {
		t.Errorf("oversize value: %v", err)
	}
	if err := s.Set("twelve-chars", make([]byte, ValueMax)); err != nil {
		t.Errorf("max-size entry rejected: %v", err)
	}
}

func TestUint32Counter(t *testing.T) {
	_, s := openFresh(t)

	if _, ok := s.GetUint32("boots"); ok {
		t.Error("GetUint32 on missing key reported ok")
	}
	for want := uint32(1); want <= 3; want++ {
		if err := s.SetUint32("boots", want); err != nil {
			t.Fatal(err)
		}
		got, ok := s.GetUint32("boots")
		if !ok || got != want {
			t.Fatalf("GetUint32 = %d, %v; want %d, true", got, ok, want)
		}
	}
}

func TestProgramOnlyClearsBits(t *testing.T) {
	dev := newMemFlash()
	dev.WriteAt([]byte{0xA5}, 100)
	dev.WriteAt([]byte{0xFF}, 100)
	var b [1]byte
	dev.ReadAt(b[:], 100)
	if b[0] != 0xA5 {
		t.Errorf("programming set bits: got %#x, want 0xa5", b[0])
	}
}
