// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package record reads and writes the log format of the metadata log. Each
// record holds one encoded version edit.
//
// The stream is divided into 32 KiB blocks of tightly packed chunks. A chunk
// never crosses a block boundary, and a block tail too short for a chunk
// header is zero filled. A chunk has a 7 byte header (a 4 byte masked CRC of
// the type and payload, a 2 byte little-endian payload length and a 1 byte
// type) followed by the payload. A record is either one full chunk, or a
// first chunk, any number of middle chunks and a last chunk.
//
// Readers and Writers are not safe for concurrent use.
package record // import "github.com/lsmcore/lsmcore/record"

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/lsmcore/lsmcore/internal/crc"
)

// Chunk types. These are part of the wire format.
const (
	fullChunkType   = 1
	firstChunkType  = 2
	middleChunkType = 3
	lastChunkType   = 4
)

const (
	blockSize  = 32 * 1024
	headerSize = 7
)

var (
	// ErrZeroedChunk is returned if a chunk is encountered that is zeroed.
	ErrZeroedChunk = errors.New("lsmcore/record: zeroed chunk")

	// ErrInvalidChunk is returned if a chunk is encountered with an invalid
	// header, length, or checksum.
	ErrInvalidChunk = errors.New("lsmcore/record: invalid chunk")
)

// IsInvalidRecord returns true if the error matches one of the error types
// returned for invalid records.
func IsInvalidRecord(err error) bool {
	return errors.Is(err, ErrZeroedChunk) || errors.Is(err, ErrInvalidChunk) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// Reader reads records from an underlying io.Reader.
type Reader struct {
	r io.Reader
	// buf[off:n] is the unread part of the current block.
	buf    [blockSize]byte
	off, n int
	// started is set once the first block is read.
	started bool
	// rec accumulates the payload of the record being read.
	rec []byte
	err error
}

// NewReader returns a new reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns a reader over the next record, or io.EOF at the end of the
// stream. Chunks before the start of the first record are skipped. The
// returned reader is valid until the next call to Next. Errors are sticky.
func (r *Reader) Next() (io.Reader, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.rec = r.rec[:0]
	inRecord := false
	for {
		typ, payload, err := r.readChunk()
		if err != nil {
			if err == io.EOF && inRecord {
				err = io.ErrUnexpectedEOF
			}
			r.err = err
			return nil, err
		}
		if !inRecord {
			if typ != fullChunkType && typ != firstChunkType {
				continue
			}
			inRecord = true
		}
		r.rec = append(r.rec, payload...)
		if typ == fullChunkType || typ == lastChunkType {
			return bytes.NewReader(r.rec), nil
		}
	}
}

// readChunk returns the type and payload of the next chunk, reading the next
// block once the current one is used up. The payload aliases the block.
func (r *Reader) readChunk() (byte, []byte, error) {
	for {
		if r.n-r.off >= headerSize {
			h := r.buf[r.off : r.off+headerSize]
			checksum := binary.LittleEndian.Uint32(h[0:4])
			length := int(binary.LittleEndian.Uint16(h[4:6]))
			typ := h[6]
			if checksum == 0 && length == 0 && typ == 0 {
				// Padding runs to the end of the block.
				if !allZero(r.buf[r.off:r.n]) {
					return 0, nil, ErrZeroedChunk
				}
				r.off = r.n
				continue
			}
			if typ < fullChunkType || typ > lastChunkType {
				return 0, nil, ErrInvalidChunk
			}
			end := r.off + headerSize + length
			if end > r.n {
				// Straddles the block or the end of the stream.
				return 0, nil, ErrInvalidChunk
			}
			if checksum != crc.New(r.buf[r.off+6:end]).Value() {
				return 0, nil, ErrInvalidChunk
			}
			payload := r.buf[r.off+headerSize : end]
			r.off = end
			return typ, payload, nil
		}
		if !allZero(r.buf[r.off:r.n]) {
			return 0, nil, ErrInvalidChunk
		}
		if r.started && r.n < blockSize {
			return 0, nil, io.EOF
		}
		n, err := io.ReadFull(r.r, r.buf[:])
		if err != nil && err != io.ErrUnexpectedEOF {
			return 0, nil, err
		}
		r.off, r.n, r.started = 0, n, true
	}
}

// flusher is the optional interface of the writer underlying a Writer.
type flusher interface {
	Flush() error
}

// Writer writes records to an underlying io.Writer. A record is handed to
// the underlying writer as soon as it is complete.
type Writer struct {
	w io.Writer
	f flusher
	// buf[:j] is the current block, of which buf[:written] was handed to w.
	buf         [blockSize]byte
	j, written  int
	blockNumber int64
	err         error
}

// NewWriter returns a new Writer.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(flusher)
	return &Writer{w: w, f: f}
}

// WriteRecord writes p as one record. It returns the offset just past the
// end of the record.
func (w *Writer) WriteRecord(p []byte) (int64, error) {
	if w.err != nil {
		return -1, w.err
	}
	for first := true; ; first = false {
		if blockSize-w.j < headerSize {
			clear(w.buf[w.j:])
			w.j = blockSize
			if w.finishBlock(); w.err != nil {
				return -1, w.err
			}
		}
		n := min(len(p), blockSize-w.j-headerSize)
		last := n == len(p)
		var typ byte
		switch {
		case first && last:
			typ = fullChunkType
		case first:
			typ = firstChunkType
		case last:
			typ = lastChunkType
		default:
			typ = middleChunkType
		}
		start := w.j
		copy(w.buf[start+headerSize:], p[:n])
		w.buf[start+6] = typ
		binary.LittleEndian.PutUint16(w.buf[start+4:start+6], uint16(n))
		w.j = start + headerSize + n
		binary.LittleEndian.PutUint32(w.buf[start:start+4], crc.New(w.buf[start+6:w.j]).Value())
		p = p[n:]
		if w.j == blockSize {
			if w.finishBlock(); w.err != nil {
				return -1, w.err
			}
		}
		if last {
			break
		}
	}
	w.writeBuffered()
	return w.Size(), w.err
}

// finishBlock hands the rest of the full block to the underlying writer and
// starts the next one.
func (w *Writer) finishBlock() {
	_, w.err = w.w.Write(w.buf[w.written:])
	w.j, w.written = 0, 0
	w.blockNumber++
}

func (w *Writer) writeBuffered() {
	if w.err != nil || w.written == w.j {
		return
	}
	_, w.err = w.w.Write(w.buf[w.written:w.j])
	w.written = w.j
}

// Flush writes the buffered records and flushes the underlying writer if it
// implements interface{ Flush() error }.
func (w *Writer) Flush() error {
	w.writeBuffered()
	if w.err != nil {
		return w.err
	}
	if w.f != nil {
		w.err = w.f.Flush()
	}
	return w.err
}

// Close writes the buffered records. The writer cannot be used afterwards.
func (w *Writer) Close() error {
	w.writeBuffered()
	if w.err != nil {
		return w.err
	}
	w.err = errors.New("lsmcore/record: closed Writer")
	return nil
}

// Size returns the current size of the file.
func (w *Writer) Size() int64 {
	if w == nil {
		return 0
	}
	return w.blockNumber*blockSize + int64(w.j)
}
