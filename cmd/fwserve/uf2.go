package main

import (
	"encoding/binary"
	"fmt"
)

// UF2 container constants. Each block is 512 bytes: a 32-byte header,
// up to 476 payload bytes, and a trailing magic.
const (
	uf2BlockSize  = 512
	uf2Magic1     = 0x0A324655 // "UF2\n"
	uf2Magic2     = 0x9E5D5157
	uf2MagicEnd   = 0x0AB16F30
	uf2MaxPayload = 476
	uf2MaxBinary  = 4 * 1024 * 1024
)

// extractUF2Binary flattens a UF2 container into the raw image: blocks
// carry absolute target addresses, so the output spans the lowest to
// highest address seen, with payloads placed at their offsets.
func extractUF2Binary(uf2Data []byte) ([]byte, error) {
	if len(uf2Data) < uf2BlockSize {
		return nil, fmt.Errorf("file too small to be UF2")
	}
	if len(uf2Data)%uf2BlockSize != 0 {
		return nil, fmt.Errorf("UF2 file size not multiple of %d", uf2BlockSize)
	}
	numBlocks := len(uf2Data) / uf2BlockSize

	// First pass: validate every block and find the address range.
	var minAddr, maxAddr uint32 = 0xFFFFFFFF, 0
	for i := 0; i < numBlocks; i++ {
		block := uf2Data[i*uf2BlockSize : (i+1)*uf2BlockSize]
		if binary.LittleEndian.Uint32(block[0:4]) != uf2Magic1 ||
			binary.LittleEndian.Uint32(block[4:8]) != uf2Magic2 ||
			binary.LittleEndian.Uint32(block[508:512]) != uf2MagicEnd {
			return nil, fmt.Errorf("block %d: invalid magic", i)
		}

		targetAddr := binary.LittleEndian.Uint32(block[12:16])
		payloadSize := binary.LittleEndian.Uint32(block[16:20])
		if targetAddr < minAddr {
			minAddr = targetAddr
		}
		if targetAddr+payloadSize > maxAddr {
			maxAddr = targetAddr + payloadSize
		}
	}

	outputSize := maxAddr - minAddr
	if outputSize > uf2MaxBinary {
		return nil, fmt.Errorf("extracted binary too large: %d bytes", outputSize)
	}
	output := make([]byte, outputSize)

	// Second pass: place payloads at their offsets.
	for i := 0; i < numBlocks; i++ {
		block := uf2Data[i*uf2BlockSize : (i+1)*uf2BlockSize]
		targetAddr := binary.LittleEndian.Uint32(block[12:16])
		payloadSize := binary.LittleEndian.Uint32(block[16:20])
		if payloadSize > uf2MaxPayload {
			payloadSize = uf2MaxPayload
		}
		offset := targetAddr - minAddr
		copy(output[offset:offset+payloadSize], block[32:32+payloadSize])
	}

	return output, nil
}
