// Package encoding normalizes the character encoding of raw source files.
//
// ANS publishes disclosure files in a mix of UTF-8 and Latin-1 depending on
// the year and the exporting system. Normalize probes the whole stream for
// UTF-8 validity in constant memory, then rewinds and hands back a reader
// that always yields UTF-8, so no downstream component ever observes legacy
// byte sequences. The fallback ladder is fixed: UTF-8 first, ISO 8859-1
// second.
package encoding

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Encoding identifies the source encoding chosen for a file.
type Encoding string

const (
	UTF8   Encoding = "utf-8"
	Latin1 Encoding = "latin-1"
)

// ErrUndecodable reports that a file could not be decoded under any
// supported encoding. It is fatal for that file: the caller must reject
// the file rather than load a partial or corrupted decode.
var ErrUndecodable = errors.New("file is not decodable as utf-8 or latin-1")

// probeBufSize is the read buffer used while scanning for UTF-8 validity.
const probeBufSize = 32 * 1024

// Normalize probes r for UTF-8 validity, rewinds it, and returns a reader
// producing UTF-8 text plus the encoding that was chosen.
//
// A valid UTF-8 stream is passed through with its BOM (if any) stripped.
// An invalid one is re-decoded as ISO 8859-1, which covers the legacy
// Latin-1 exports. I/O and seek failures are wrapped in ErrUndecodable.
func Normalize(r io.ReadSeeker) (io.Reader, Encoding, error) {
	valid, err := probeUTF8(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: probe failed: %v", ErrUndecodable, err)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, "", fmt.Errorf("%w: rewind failed: %v", ErrUndecodable, err)
	}

	if valid {
		return NewBOMSkippingReader(r), UTF8, nil
	}

	// Latin-1 is total over bytes, so this decode cannot itself fail.
	return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), Latin1, nil
}

// probeUTF8 scans the entire stream and reports whether it is valid UTF-8.
// Multi-byte sequences split across read boundaries are carried over to the
// next buffer, so the scan uses constant memory regardless of file size.
func probeUTF8(r io.Reader) (bool, error) {
	buf := make([]byte, probeBufSize)
	pending := make([]byte, 0, utf8.UTFMax)

	for {
		offset := copy(buf, pending)
		pending = pending[:0]

		n, err := r.Read(buf[offset:])
		n += offset

		if n > 0 {
			data := buf[:n]

			atEOF := err == io.EOF
			if !atEOF {
				if trailing := incompleteTrailingBytes(data); trailing > 0 {
					pending = append(pending, data[n-trailing:]...)
					data = data[:n-trailing]
				}
			}

			if !utf8.Valid(data) {
				return false, nil
			}
		}

		if err == io.EOF {
			// Leftover partial sequence at EOF means the file is truncated
			// mid-rune, which UTF-8 cannot represent.
			return len(pending) == 0, nil
		}
		if err != nil {
			return false, err
		}
	}
}

// incompleteTrailingBytes returns the number of bytes at the end of data
// that could be the start of an incomplete multi-byte UTF-8 sequence.
func incompleteTrailingBytes(data []byte) int {
	if len(data) == 0 {
		return 0
	}

	// Check last 1-3 bytes for incomplete sequences
	for i := 1; i <= 3 && i <= len(data); i++ {
		b := data[len(data)-i]
		// Check if this byte starts a multi-byte sequence
		if b >= 0xC0 {
			// This byte starts a sequence - check if complete
			expectedLen := runeLen(b)
			if i < expectedLen {
				return i
			}
			return 0
		}
		// Continuation byte (10xxxxxx) - keep checking
		if b&0xC0 != 0x80 {
			return 0
		}
	}
	return 0
}

// runeLen returns the expected length of a UTF-8 sequence starting with byte b.
func runeLen(b byte) int {
	if b < 0x80 {
		return 1
	}
	if b < 0xC0 {
		return 0 // continuation byte
	}
	if b < 0xE0 {
		return 2
	}
	if b < 0xF0 {
		return 3
	}
	return 4
}

// BOMSkippingReader wraps an io.Reader and skips the UTF-8 BOM if present.
// The UTF-8 BOM is 0xEF 0xBB 0xBF and is commonly added by Windows programs.
type BOMSkippingReader struct {
	reader     io.Reader
	bomChecked bool
	buf        [3]byte // Buffer for BOM detection
	bufData    []byte  // Remaining data after BOM check
	bufOffset  int     // Current read position in bufData
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{
		reader: r,
	}
}

// Read implements io.Reader. On the first read, it checks for and skips the BOM.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.bomChecked {
		r.bomChecked = true

		// Read first 3 bytes to check for BOM
		n, err := io.ReadFull(r.reader, r.buf[:])
		if n == 0 {
			return 0, err
		}

		// Check for BOM
		if n >= 3 && r.buf[0] == 0xEF && r.buf[1] == 0xBB && r.buf[2] == 0xBF {
			// BOM found - skip it
			r.bufData = nil
		} else {
			// No BOM - preserve the bytes we read
			r.bufData = r.buf[:n]
			r.bufOffset = 0
		}

		// If we hit EOF during BOM check, handle it
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		// If we have buffered data, return it first
		if len(r.bufData) > 0 {
			copied := copy(p, r.bufData[r.bufOffset:])
			r.bufOffset += copied
			if r.bufOffset >= len(r.bufData) {
				r.bufData = nil
			}
			if copied < len(p) && err != io.EOF {
				// Read more from underlying reader
				n, err2 := r.reader.Read(p[copied:])
				return copied + n, err2
			}
			return copied, err
		}
	}

	// Return any remaining buffered data first
	if len(r.bufData) > r.bufOffset {
		copied := copy(p, r.bufData[r.bufOffset:])
		r.bufOffset += copied
		if r.bufOffset >= len(r.bufData) {
			r.bufData = nil
		}
		return copied, nil
	}

	// Normal read from underlying reader
	return r.reader.Read(p)
}
