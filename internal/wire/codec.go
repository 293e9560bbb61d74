package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ssuji15/trainpool/model"
)

const (
	MaxStringLen = 1 << 16
	MaxBlobLen   = 1 << 30
)

var ErrTooLarge = errors.New("wire: length field exceeds limit")

type deadliner interface {
	SetReadDeadline(time.Time) error
}

// Reader decodes protocol primitives. The first failed read is sticky:
// every later read returns a zero value without touching the stream, so
// callers check Err once after a sequence of reads.
type Reader struct {
	br      *bufio.Reader
	dl      deadliner
	timeout time.Duration
	err     error
}

func NewReader(r io.Reader) *Reader {
	return NewTimeoutReader(r, 0)
}

// NewTimeoutReader bounds every read by timeout when r supports read
// deadlines (net.Conn, pipes from os.Pipe).
func NewTimeoutReader(r io.Reader, timeout time.Duration) *Reader {
	rd := &Reader{timeout: timeout}
	if br, ok := r.(*bufio.Reader); ok {
		rd.br = br
	} else {
		rd.br = bufio.NewReader(r)
	}
	if d, ok := r.(deadliner); ok && timeout > 0 {
		rd.dl = d
	}
	return rd
}

// NewBufferedReader reuses an existing buffered reader whose underlying
// stream is dl. Bytes already buffered are consumed first.
func NewBufferedReader(br *bufio.Reader, dl deadliner, timeout time.Duration) *Reader {
	rd := &Reader{br: br, timeout: timeout}
	if dl != nil && timeout > 0 {
		rd.dl = dl
	}
	return rd
}

func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) arm() bool {
	if r.err != nil {
		return false
	}
	if r.dl != nil {
		if err := r.dl.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			r.fail(fmt.Errorf("wire: set read deadline: %w", err))
			return false
		}
	}
	return true
}

func (r *Reader) full(p []byte) {
	if !r.arm() {
		return
	}
	if _, err := io.ReadFull(r.br, p); err != nil {
		r.fail(fmt.Errorf("wire: short read: %w", err))
	}
}

// body reads an n-byte length-prefixed body. The buffer grows with the
// bytes actually received, so a large declared length costs nothing until
// the peer sends it.
func (r *Reader) body(n int) []byte {
	if !r.arm() {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(min(n, bytes.MinRead))
	got, err := buf.ReadFrom(io.LimitReader(r.br, int64(n)))
	if err == nil && got < int64(n) {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		r.fail(fmt.Errorf("wire: short read: %w", err))
		return nil
	}
	return buf.Bytes()
}

func (r *Reader) ReadUint8() uint8 {
	if !r.arm() {
		return 0
	}
	b, err := r.br.ReadByte()
	if err != nil {
		r.fail(fmt.Errorf("wire: read byte: %w", err))
		return 0
	}
	return b
}

func (r *Reader) ReadOpcode() Opcode {
	return Opcode(r.ReadUint8())
}

func (r *Reader) ReadHash() model.Hash {
	var h model.Hash
	r.full(h[:])
	if r.err != nil {
		return model.Hash{}
	}
	return h
}

func (r *Reader) ReadUvarint() uint64 {
	if !r.arm() {
		return 0
	}
	v, err := binary.ReadUvarint(r.br)
	if err != nil {
		r.fail(fmt.Errorf("wire: read uvarint: %w", err))
		return 0
	}
	return v
}

func (r *Reader) ReadVarint() int64 {
	if !r.arm() {
		return 0
	}
	v, err := binary.ReadVarint(r.br)
	if err != nil {
		r.fail(fmt.Errorf("wire: read varint: %w", err))
		return 0
	}
	return v
}

func (r *Reader) readLen(limit uint64) int {
	n := r.ReadUvarint()
	if r.err != nil {
		return 0
	}
	if n > limit {
		r.fail(fmt.Errorf("%w: %d > %d", ErrTooLarge, n, limit))
		return 0
	}
	return int(n)
}

func (r *Reader) ReadString() string {
	n := r.readLen(MaxStringLen)
	if r.err != nil || n == 0 {
		return ""
	}
	b := r.body(n)
	if r.err != nil {
		return ""
	}
	return string(b)
}

func (r *Reader) ReadBytes() []byte {
	n := r.readLen(MaxBlobLen)
	if r.err != nil || n == 0 {
		return nil
	}
	b := r.body(n)
	if r.err != nil {
		return nil
	}
	return b
}

// Writer encodes protocol primitives into a buffer. Like Reader, the first
// error is sticky; Flush reports it.
type Writer struct {
	bw  *bufio.Writer
	err error
	buf [binary.MaxVarintLen64]byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	if _, err := w.bw.Write(p); err != nil {
		w.err = fmt.Errorf("wire: write: %w", err)
	}
}

func (w *Writer) WriteUint8(v uint8) {
	if w.err != nil {
		return
	}
	if err := w.bw.WriteByte(v); err != nil {
		w.err = fmt.Errorf("wire: write: %w", err)
	}
}

func (w *Writer) WriteOpcode(op Opcode) {
	w.WriteUint8(uint8(op))
}

func (w *Writer) WriteHash(h model.Hash) {
	w.write(h[:])
}

func (w *Writer) WriteUvarint(v uint64) {
	n := binary.PutUvarint(w.buf[:], v)
	w.write(w.buf[:n])
}

func (w *Writer) WriteVarint(v int64) {
	n := binary.PutVarint(w.buf[:], v)
	w.write(w.buf[:n])
}

func (w *Writer) WriteString(s string) {
	if len(s) > MaxStringLen {
		if w.err == nil {
			w.err = fmt.Errorf("%w: string of %d bytes", ErrTooLarge, len(s))
		}
		return
	}
	w.WriteUvarint(uint64(len(s)))
	w.write([]byte(s))
}

func (w *Writer) WriteBytes(b []byte) {
	if len(b) > MaxBlobLen {
		if w.err == nil {
			w.err = fmt.Errorf("%w: blob of %d bytes", ErrTooLarge, len(b))
		}
		return
	}
	w.WriteUvarint(uint64(len(b)))
	w.write(b)
}

func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if err := w.bw.Flush(); err != nil {
		w.err = fmt.Errorf("wire: flush: %w", err)
	}
	return w.err
}
