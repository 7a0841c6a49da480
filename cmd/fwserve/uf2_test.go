package main

import (
	"encoding/binary"
	"testing"
)

// buildTestUF2 builds an in-memory UF2 container with one block per
// address given, each payload filled with a marker byte.
func buildTestUF2(t *testing.T, addresses []uint32, payloadSize uint32) []byte {
	t.Helper()

	uf2Data := make([]byte, len(addresses)*uf2BlockSize)
	for i, addr := range addresses {
		block := uf2Data[i*uf2BlockSize : (i+1)*uf2BlockSize]

		binary.LittleEndian.PutUint32(block[0:4], uf2Magic1)
		binary.LittleEndian.PutUint32(block[4:8], uf2Magic2)
		binary.LittleEndian.PutUint32(block[508:512], uf2MagicEnd)

		binary.LittleEndian.PutUint32(block[8:12], 0x00002000) // FAMILY_ID_PRESENT
		binary.LittleEndian.PutUint32(block[12:16], addr)
		binary.LittleEndian.PutUint32(block[16:20], payloadSize)
		binary.LittleEndian.PutUint32(block[20:24], uint32(i))
		binary.LittleEndian.PutUint32(block[24:28], uint32(len(addresses)))
		binary.LittleEndian.PutUint32(block[28:32], 0xe48bff59) // RP2350

		for j := uint32(0); j < payloadSize; j++ {
			block[32+j] = byte(0xA0 + i)
		}
	}
	return uf2Data
}

func TestExtractUF2BinarySequential(t *testing.T) {
	base := uint32(0x10000000)
	addrs := []uint32{base, base + 256, base + 512}
	output, err := extractUF2Binary(buildTestUF2(t, addrs, 256))
	if err != nil {
		t.Fatalf("extractUF2Binary: %v", err)
	}
	if len(output) != 768 {
		t.Fatalf("output size = %d, want 768", len(output))
	}
	for i := 0; i < 3; i++ {
		if output[i*256] != byte(0xA0+i) {
			t.Errorf("block %d marker = %#x, want %#x", i, output[i*256], 0xA0+i)
		}
	}
}

func TestExtractUF2BinaryAddressGaps(t *testing.T) {
	addrs := []uint32{0x10001000, 0x10002000, 0x10003000}
	output, err := extractUF2Binary(buildTestUF2(t, addrs, 256))
	if err != nil {
		t.Fatalf("extractUF2Binary: %v", err)
	}
	wantSize := int(addrs[2] + 256 - addrs[0])
	if len(output) != wantSize {
		t.Fatalf("output size = %d, want %d", len(output), wantSize)
	}
	if output[0] != 0xA0 {
		t.Errorf("first block marker = %#x, want 0xa0", output[0])
	}
	if got := output[addrs[2]-addrs[0]]; got != 0xA2 {
		t.Errorf("third block marker = %#x, want 0xa2", got)
	}
}

func TestExtractUF2BinaryRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too small", make([]byte, 100)},
		{"not multiple of 512", make([]byte, 600)},
		{"bad magic", make([]byte, 512)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := extractUF2Binary(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}
