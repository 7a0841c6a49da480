//go:build tinygo

package main

import (
	"crypto/sha256"
	"errors"
	"io"
	"log/slog"
	"net"
	"runtime"
	"time"

	"fieldtrack/tracker/config"
	"fieldtrack/tracker/ota"

	"github.com/soypat/lneto/tcp"
	"github.com/soypat/lneto/x/xnet"
)

const (
	updateRxBufSize = 2048
	updateTxBufSize = 1024
	updateIOTimeout = 30 * time.Second
	updateRetries   = 3
	hdrBufSize      = 1024
)

// Pre-allocated buffers for the one-shot fetch
var (
	updateRxBuf [updateRxBufSize]byte
	updateTxBuf [updateTxBufSize]byte
	hdrBuf      [hdrBufSize]byte
	stageBuf    [ota.SectorSize]byte
	chunkBuf    [512]byte
	digestBuf   [64]byte
)

var (
	errUpdateStatus   = errors.New("update: non-200 response")
	errUpdateLength   = errors.New("update: bad content length")
	errUpdateTooLarge = errors.New("update: image too large for partition")
	errUpdateDigest   = errors.New("update: digest mismatch")
	errUpdateNotReady = errors.New("update: connection not established")
)

// fetchAndFlash pulls the firmware image from the pinned update URL and
// streams it into the inactive partition. Exactly one outcome: nil means
// the partition holds a verified image ready to boot.
func fetchAndFlash(stack *xnet.StackAsync, logger *slog.Logger) error {
	addr, path, err := parseUpdateURL(config.UpdateURL())
	if err != nil {
		return err
	}

	var conn tcp.Conn
	err = conn.Configure(tcp.ConnConfig{
		RxBuf:             updateRxBuf[:],
		TxBuf:             updateTxBuf[:],
		TxPacketQueueSize: 3,
	})
	if err != nil {
		return err
	}

	// Create retrying stack for dial with retries
	rstack := stack.StackRetrying(5 * time.Millisecond)

	// Random local port
	lport := uint16(stack.Prand32()>>17) + 1024
	logger.Info("update:dialing",
		slog.String("origin", addr.String()),
		slog.String("path", path),
	)
	err = rstack.DoDialTCP(&conn, lport, addr, updateIOTimeout, updateRetries)
	if err != nil {
		closeConn(&conn, stack, addr)
		return err
	}
	defer closeConn(&conn, stack, addr)

	// Give the stack time to fully establish connection
	time.Sleep(50 * time.Millisecond)
	if !conn.State().IsSynchronized() {
		return errUpdateNotReady
	}

	// One request, connection held open for the whole transfer.
	conn.SetDeadline(time.Now().Add(updateIOTimeout))
	conn.Write([]byte("GET "))
	conn.Write([]byte(path))
	conn.Write([]byte(" HTTP/1.1\r\nHost: "))
	conn.Write([]byte(addr.Addr().String()))
	conn.Write([]byte("\r\nConnection: keep-alive\r\n"))
	if tok := config.UpdateToken(); tok != "" {
		conn.Write([]byte("Authorization: Bearer "))
		conn.Write([]byte(tok))
		conn.Write([]byte("\r\n"))
	}
	conn.Write([]byte("\r\n"))
	conn.Flush()

	// Accumulate the response header; whatever follows it is body.
	hdrLen := 0
	hdrEnd := -1
	for hdrEnd < 0 {
		if hdrLen == len(hdrBuf) {
			return errBadStatus
		}
		n, err := readSome(&conn, hdrBuf[hdrLen:], updateIOTimeout)
		if err != nil {
			return err
		}
		hdrLen += n
		hdrEnd = findHeaderEnd(hdrBuf[:hdrLen])
	}
	hdr := hdrBuf[:hdrEnd]

	if code := parseStatusCode(hdr); code != 200 {
		logger.Error("update:bad-status", slog.Int("code", code))
		return errUpdateStatus
	}
	total := parseContentLength(hdr)
	if total <= 0 {
		return errUpdateLength
	}
	if uint32(total) > ota.PartitionMaxSize() {
		return errUpdateTooLarge
	}
	// Keep a copy: hdrBuf is dead once the body starts flowing.
	wantDigest := digestBuf[:copy(digestBuf[:], headerValue(hdr, "X-Firmware-Sha256"))]

	target := ota.TargetPartition()
	partOffset := ota.PartitionOffset(target)
	logger.Info("update:receiving",
		slog.Int("bytes", total),
		slog.Int("partition", target),
	)

	// Track which sectors have been erased (erase on-demand to avoid blocking)
	var erasedSectors [512]bool
	hasher := sha256.New()
	var flashed uint32 // bytes programmed so far
	staged := 0        // bytes waiting in stageBuf
	received := 0

	flushStage := func(final bool) error {
		if staged == 0 {
			return nil
		}
		n := staged
		if final {
			// ROM program wants whole pages; pad the tail with 0xFF.
			for n%ota.PageSize != 0 {
				stageBuf[n] = 0xFF
				n++
			}
		}
		startSector := flashed / ota.SectorSize
		endSector := (flashed + uint32(n) - 1) / ota.SectorSize
		for sector := startSector; sector <= endSector; sector++ {
			if sector < uint32(len(erasedSectors)) && !erasedSectors[sector] {
				feedWatchdogIfHealthy()
				if err := ota.EraseSector(partOffset + sector*ota.SectorSize); err != nil {
					return err
				}
				erasedSectors[sector] = true
				// Give network stack time after erase
				time.Sleep(10 * time.Millisecond)
				for i := 0; i < 10; i++ {
					runtime.Gosched()
				}
			}
		}
		feedWatchdogIfHealthy()
		if err := ota.WriteChunk(partOffset+flashed, stageBuf[:n]); err != nil {
			return err
		}
		flashed += uint32(n)
		staged = 0
		return nil
	}

	ingest := func(data []byte) error {
		hasher.Write(data)
		received += len(data)
		for len(data) > 0 {
			c := copy(stageBuf[staged:], data)
			staged += c
			data = data[c:]
			if staged == len(stageBuf) {
				if err := flushStage(false); err != nil {
					return err
				}
			}
		}
		return nil
	}

	// Body bytes that arrived with the header come first.
	if err := ingest(hdrBuf[hdrEnd:hdrLen]); err != nil {
		return err
	}

	for received < total {
		feedWatchdogIfHealthy()
		want := total - received
		if want > len(chunkBuf) {
			want = len(chunkBuf)
		}
		n, err := readSome(&conn, chunkBuf[:want], updateIOTimeout)
		if err != nil {
			logger.Error("update:read-failed",
				slog.Int("received", received),
				slog.String("err", err.Error()),
			)
			return err
		}
		if err := ingest(chunkBuf[:n]); err != nil {
			return err
		}
		if received%(64*1024) < 512 {
			logger.Debug("update:progress", slog.Int("received", received))
		}
	}
	if err := flushStage(true); err != nil {
		return err
	}

	sum := hasher.Sum(nil)
	if len(wantDigest) > 0 && !digestMatches(sum, wantDigest) {
		logger.Error("update:digest-mismatch",
			slog.String("got", string(appendHashHex(nil, sum))),
			slog.String("want", string(wantDigest)),
		)
		return errUpdateDigest
	}

	logger.Info("update:flashed",
		slog.Int("bytes", received),
		slog.Int("partition", target),
	)
	return nil
}

// readSome reads at least one byte from the connection, bounded by the
// I/O timeout. Zero-byte reads from the stack mean "nothing yet".
func readSome(conn *tcp.Conn, buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if conn.State().IsClosed() || conn.State().IsClosing() {
			return 0, io.EOF
		}
		n, err := conn.Read(buf)
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return 0, errors.New("update: read timeout")
}
