// Package image loads program images in the Intel HEX format used by
// flashing tools. The loader streams records straight to a memory
// sink, verifies every record checksum, and reports a digest of the
// payload so a load can be matched against a known build.
package image

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/rvkit/rvkit/log"
)

// Record types of the I32HEX subset the loader accepts.
const (
	recData            = 0x00
	recEOF             = 0x01
	recExtLinearAddr   = 0x04
	recStartLinearAddr = 0x05
)

var (
	// ErrChecksum reports a record whose checksum byte does not balance
	// its contents.
	ErrChecksum = errors.New("record checksum mismatch")

	// ErrNoEOF reports an image with no end-of-file record, usually a
	// truncated transfer.
	ErrNoEOF = errors.New("missing end-of-file record")
)

// Sink receives the decoded image bytes. *hart.Bus satisfies it.
type Sink interface {
	Write8(addr uint64, v byte)
}

// Summary describes a completed load.
type Summary struct {
	// Entry is the start address from the image, valid when HasEntry.
	Entry    uint64
	HasEntry bool

	// Bytes is the number of payload bytes written to the sink.
	Bytes int

	// Digest is the SHA3-256 of the payload bytes in image order.
	Digest [32]byte
}

// Load decodes an Intel HEX stream into the sink. It fails on the
// first malformed or checksum-violating record; nothing written before
// the failure is rolled back.
func Load(r io.Reader, sink Sink) (*Summary, error) {
	var (
		sum    Summary
		upper  uint64
		sawEOF bool
	)
	digest := sha3.New256()

	sc := bufio.NewScanner(r)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if sawEOF {
			return nil, fmt.Errorf("image: line %d: record after end-of-file", lineNo)
		}
		if line[0] != ':' {
			return nil, fmt.Errorf("image: line %d: record does not start with ':'", lineNo)
		}
		raw, err := hex.DecodeString(line[1:])
		if err != nil {
			return nil, fmt.Errorf("image: line %d: %w", lineNo, err)
		}
		if len(raw) < 5 {
			return nil, fmt.Errorf("image: line %d: record too short", lineNo)
		}
		count := int(raw[0])
		if len(raw) != count+5 {
			return nil, fmt.Errorf("image: line %d: length field %d does not match record", lineNo, count)
		}

		// The checksum byte is the two's complement of the record sum,
		// so a valid record sums to zero.
		var cs byte
		for _, b := range raw {
			cs += b
		}
		if cs != 0 {
			return nil, fmt.Errorf("image: line %d: %w", lineNo, ErrChecksum)
		}

		addr := uint64(raw[1])<<8 | uint64(raw[2])
		payload := raw[4 : 4+count]

		switch raw[3] {
		case recData:
			base := upper + addr
			for i, b := range payload {
				sink.Write8(base+uint64(i), b)
			}
			digest.Write(payload)
			sum.Bytes += count
		case recEOF:
			sawEOF = true
		case recExtLinearAddr:
			if count != 2 {
				return nil, fmt.Errorf("image: line %d: extended linear address record with %d payload bytes", lineNo, count)
			}
			upper = (uint64(payload[0])<<8 | uint64(payload[1])) << 16
		case recStartLinearAddr:
			if count != 4 {
				return nil, fmt.Errorf("image: line %d: start linear address record with %d payload bytes", lineNo, count)
			}
			sum.Entry = uint64(payload[0])<<24 | uint64(payload[1])<<16 |
				uint64(payload[2])<<8 | uint64(payload[3])
			sum.HasEntry = true
		default:
			return nil, fmt.Errorf("image: line %d: unsupported record type %#02x", lineNo, raw[3])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("image: read: %w", err)
	}
	if !sawEOF {
		return nil, fmt.Errorf("image: %w", ErrNoEOF)
	}

	digest.Sum(sum.Digest[:0])
	return &sum, nil
}

// LoadFile loads an Intel HEX image from disk and logs the result.
func LoadFile(path string, sink Sink) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	defer f.Close()

	sum, err := Load(f, sink)
	if err != nil {
		return nil, err
	}
	log.Default().Module("image").Info("image loaded",
		"path", path,
		"bytes", sum.Bytes,
		"digest", hex.EncodeToString(sum.Digest[:]),
		"entry", sum.Entry,
		"has_entry", sum.HasEntry)
	return sum, nil
}
