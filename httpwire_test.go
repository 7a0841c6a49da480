package main

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestParseUpdateURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantAddr string
		wantPath string
		wantErr  bool
	}{
		{"full url", "http://192.168.1.50:8080/firmware.bin", "192.168.1.50:8080", "/firmware.bin", false},
		{"default port", "http://10.0.0.2/fw.bin", "10.0.0.2:80", "/fw.bin", false},
		{"default path", "http://10.0.0.2:9000", "10.0.0.2:9000", "/", false},
		{"https rejected", "https://10.0.0.2/fw.bin", "", "", true},
		{"hostname rejected", "http://updates.example.com/fw.bin", "", "", true},
		{"empty", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, path, err := parseUpdateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseUpdateURL(%q) err = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if addr.String() != tt.wantAddr || path != tt.wantPath {
				t.Errorf("parseUpdateURL(%q) = %v, %q; want %v, %q",
					tt.url, addr, path, tt.wantAddr, tt.wantPath)
			}
		})
	}
}

func TestFindHeaderEnd(t *testing.T) {
	full := []byte("HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\nbody")
	if got := findHeaderEnd(full); got != len(full)-4 {
		t.Errorf("findHeaderEnd = %d, want %d", got, len(full)-4)
	}
	if got := findHeaderEnd([]byte("HTTP/1.1 200 OK\r\nContent-Le")); got != -1 {
		t.Errorf("partial header: findHeaderEnd = %d, want -1", got)
	}
}

func TestParseStatusCode(t *testing.T) {
	tests := []struct {
		line string
		want int
	}{
		{"HTTP/1.1 200 OK\r\n", 200},
		{"HTTP/1.1 404 Not Found\r\n", 404},
		{"HTTP/1.0 301 Moved\r\n", 301},
		{"garbage\r\n", 0},
		{"HTTP/1.1\r\n", 0},
		{"HTTP/1.1 abc\r\n", 0},
	}
	for _, tt := range tests {
		if got := parseStatusCode([]byte(tt.line)); got != tt.want {
			t.Errorf("parseStatusCode(%q) = %d, want %d", tt.line, got, tt.want)
		}
	}
}

func TestHeaderValue(t *testing.T) {
	hdr := []byte("HTTP/1.1 200 OK\r\n" +
		"Content-Length: 1024\r\n" +
		"x-firmware-sha256:  abcdef \r\n" +
		"\r\n")
	if got := headerValue(hdr, "Content-Length"); !bytes.Equal(got, []byte("1024")) {
		t.Errorf("Content-Length = %q", got)
	}
	if got := headerValue(hdr, "X-Firmware-Sha256"); !bytes.Equal(got, []byte("abcdef")) {
		t.Errorf("case-insensitive lookup = %q", got)
	}
	if got := headerValue(hdr, "ETag"); got != nil {
		t.Errorf("missing header = %q, want nil", got)
	}
}

func TestParseContentLength(t *testing.T) {
	tests := []struct {
		hdr  string
		want int
	}{
		{"Content-Length: 4096\r\n\r\n", 4096},
		{"Content-Length: 0\r\n\r\n", 0},
		{"Content-Length: nope\r\n\r\n", -1},
		{"\r\n", -1},
	}
	for _, tt := range tests {
		if got := parseContentLength([]byte(tt.hdr)); got != tt.want {
			t.Errorf("parseContentLength(%q) = %d, want %d", tt.hdr, got, tt.want)
		}
	}
}

func TestDigestMatches(t *testing.T) {
	sum := sha256.Sum256([]byte("firmware image"))
	hexLower := appendHashHex(nil, sum[:])
	if !digestMatches(sum[:], hexLower) {
		t.Error("lowercase hex did not match its own digest")
	}
	hexUpper := bytes.ToUpper(hexLower)
	if !digestMatches(sum[:], hexUpper) {
		t.Error("uppercase hex did not match its own digest")
	}
	bad := append([]byte{}, hexLower...)
	bad[0] ^= 1
	if digestMatches(sum[:], bad) {
		t.Error("corrupted hex matched the digest")
	}
	if digestMatches(sum[:], hexLower[:10]) {
		t.Error("truncated hex matched the digest")
	}
}

func TestAppendHex(t *testing.T) {
	got := appendHex([]byte("id-"), 0xBEEF)
	if string(got) != "id-beef" {
		t.Errorf("appendHex = %q, want id-beef", got)
	}
}
