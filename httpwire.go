package main

import (
	"errors"
	"net/netip"
)

// Wire-level helpers for the update fetch. Everything here is
// allocation-free byte scanning so it can run against the pre-allocated
// buffers the TCP stack hands us, and be tested on the host.

var (
	errBadUpdateURL = errors.New("update: bad pinned url")
	errBadStatus    = errors.New("update: bad status line")
)

// parseUpdateURL splits a pinned "http://ip:port/path" update URL.
// The host part is a literal address: name resolution stays out of the
// update path. A missing port defaults to 80, a missing path to "/".
func parseUpdateURL(s string) (addr netip.AddrPort, path string, err error) {
	const scheme = "http://"
	if len(s) <= len(scheme) || s[:len(scheme)] != scheme {
		return addr, "", errBadUpdateURL
	}
	rest := s[len(scheme):]

	hostEnd := len(rest)
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			hostEnd = i
			break
		}
	}
	host := rest[:hostEnd]
	path = rest[hostEnd:]
	if path == "" {
		path = "/"
	}

	if addr, err = netip.ParseAddrPort(host); err == nil {
		return addr, path, nil
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, "", errBadUpdateURL
	}
	return netip.AddrPortFrom(ip, 80), path, nil
}

// findHeaderEnd returns the index just past the blank line terminating
// an HTTP response header, or -1 if the header is still incomplete.
func findHeaderEnd(buf []byte) int {
	for i := 0; i+3 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' && buf[i+2] == '\r' && buf[i+3] == '\n' {
			return i + 4
		}
	}
	return -1
}

// parseStatusCode extracts the status code from an "HTTP/1.x NNN ..."
// status line. Returns 0 if the line is malformed.
func parseStatusCode(buf []byte) int {
	// Skip the version token.
	sp := -1
	for i := 0; i < len(buf); i++ {
		if buf[i] == ' ' {
			sp = i
			break
		}
		if buf[i] == '\r' || buf[i] == '\n' {
			return 0
		}
	}
	if sp < 0 || sp+4 > len(buf) {
		return 0
	}
	code := atoiBytes(buf[sp+1:])
	if code < 100 || code > 599 {
		return 0
	}
	return code
}

// headerValue returns the trimmed value of the named header, or nil if
// the header is absent. Name matching is case-insensitive.
func headerValue(hdr []byte, name string) []byte {
	lineStart := 0
	for lineStart < len(hdr) {
		lineEnd := lineStart
		for lineEnd < len(hdr) && hdr[lineEnd] != '\n' {
			lineEnd++
		}
		line := hdr[lineStart:lineEnd]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) > len(name) && line[len(name)] == ':' && nameEqualFold(line[:len(name)], name) {
			return trimSpaceBytes(line[len(name)+1:])
		}
		lineStart = lineEnd + 1
	}
	return nil
}

// parseContentLength returns the Content-Length value, or -1 when the
// header is missing or malformed.
func parseContentLength(hdr []byte) int {
	v := headerValue(hdr, "Content-Length")
	if len(v) == 0 {
		return -1
	}
	n := atoiBytes(v)
	if n == 0 && v[0] != '0' {
		return -1
	}
	return n
}

// digestMatches compares a raw SHA-256 sum against its lowercase or
// uppercase hex representation.
func digestMatches(sum []byte, hexstr []byte) bool {
	if len(hexstr) != len(sum)*2 {
		return false
	}
	for i, b := range sum {
		if hexNibble(hexstr[i*2]) != int(b>>4) || hexNibble(hexstr[i*2+1]) != int(b&0xf) {
			return false
		}
	}
	return true
}

// appendHashHex appends the lowercase hex form of hash to dst.
func appendHashHex(dst []byte, hash []byte) []byte {
	const hexDigits = "0123456789abcdef"
	for _, b := range hash {
		dst = append(dst, hexDigits[b>>4], hexDigits[b&0xf])
	}
	return dst
}

// appendHex appends a uint16 as 4 hex characters to the byte slice
func appendHex(b []byte, v uint16) []byte {
	const hexDigits = "0123456789abcdef"
	return append(b,
		hexDigits[(v>>12)&0xf],
		hexDigits[(v>>8)&0xf],
		hexDigits[(v>>4)&0xf],
		hexDigits[v&0xf],
	)
}

// atoiBytes parses a leading run of ASCII digits without allocation.
func atoiBytes(s []byte) int {
	n := 0
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}

// nameEqualFold compares an ASCII header name case-insensitively.
func nameEqualFold(a []byte, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// trimSpaceBytes trims leading and trailing spaces and tabs.
func trimSpaceBytes(s []byte) []byte {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

// hexNibble decodes one hex digit, returning -1 for anything else.
func hexNibble(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}
