// Package sse decodes server-sent event byte streams into discrete records.
//
// Input arrives as chunks of arbitrary size and alignment. The decoder keeps
// two pieces of state between chunks: undecoded bytes of an incomplete UTF-8
// sequence and the unterminated tail of the current record. Feeding a stream
// in any chunking therefore yields the same records as feeding it whole.
package sse

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	recordSeparator = "\n\n"
	fieldData       = "data"
	fieldEvent      = "event"
	doneSentinel    = "[DONE]"
	decodeBufSize   = 4096
)

// ErrMalformedRecord indicates a record whose data payload is not valid JSON.
var ErrMalformedRecord = errors.New("malformed sse record")

// Record is one parsed server-sent event with a JSON data payload.
type Record struct {
	Event string
	Data  string
}

// DecodeError describes a record dropped by the decoder. It is never fatal.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode sse record %q: %v", truncate(e.Raw, 64), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder converts byte chunks into records.
type Decoder struct {
	// OnDrop, when set, is called for every record skipped as malformed.
	OnDrop func(*DecodeError)

	utf8    *encoding.Decoder
	carry   []byte
	pending strings.Builder
	buf     []byte
	flushed bool
}

// NewDecoder returns a decoder ready for the first chunk.
func NewDecoder() *Decoder {
	return &Decoder{
		utf8: unicode.UTF8.NewDecoder(),
		buf:  make([]byte, decodeBufSize),
	}
}

// Feed decodes one chunk and returns every record completed by it.
func (d *Decoder) Feed(chunk []byte) []Record {
	if d.flushed {
		return nil
	}
	d.pending.WriteString(d.decode(chunk, false))
	return d.drain(false)
}

// Flush signals end of stream and returns the final record, if any.
// The decoder yields nothing after Flush.
func (d *Decoder) Flush() []Record {
	if d.flushed {
		return nil
	}
	d.pending.WriteString(d.decode(nil, true))
	d.flushed = true
	return d.drain(true)
}

// decode turns bytes into text, holding back an incomplete trailing UTF-8 sequence.
func (d *Decoder) decode(chunk []byte, atEOF bool) string {
	src := append(d.carry, chunk...)
	var out strings.Builder
	for {
		nDst, nSrc, err := d.utf8.Transform(d.buf, src, atEOF)
		out.Write(d.buf[:nDst])
		src = src[nSrc:]
		if errors.Is(err, transform.ErrShortDst) {
			continue
		}
		break
	}
	d.carry = append([]byte(nil), src...)
	return out.String()
}

func (d *Decoder) drain(atEOF bool) []Record {
	text := strings.ReplaceAll(d.pending.String(), "\r\n", "\n")
	parts := strings.Split(text, recordSeparator)

	tail := parts[len(parts)-1]
	complete := parts[:len(parts)-1]
	if atEOF {
		complete = parts
		tail = ""
	}

	d.pending.Reset()
	d.pending.WriteString(tail)

	var records []Record
	for _, raw := range complete {
		record, ok, err := parseRecord(raw)
		if err != nil {
			d.drop(raw, err)
			continue
		}
		if ok {
			records = append(records, record)
		}
	}
	return records
}

func (d *Decoder) drop(raw string, err error) {
	if d.OnDrop != nil {
		d.OnDrop(&DecodeError{Raw: raw, Err: err})
	}
}

// parseRecord reads the fields of one record. ok is false for records
// carrying no data, comments only, or the end-of-stream sentinel.
func parseRecord(raw string) (Record, bool, error) {
	if strings.TrimSpace(raw) == "" {
		return Record{}, false, nil
	}

	var record Record
	var data []string
	for _, line := range strings.Split(raw, "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case fieldData:
			data = append(data, value)
		case fieldEvent:
			record.Event = value
		}
	}
	if len(data) == 0 {
		return Record{}, false, nil
	}

	record.Data = strings.Join(data, "\n")
	if strings.TrimSpace(record.Data) == doneSentinel {
		return Record{}, false, nil
	}
	if !gjson.Valid(record.Data) {
		return Record{}, false, ErrMalformedRecord
	}
	return record, true, nil
}

// Reader lazily yields records from an underlying byte stream.
type Reader struct {
	src     io.Reader
	dec     *Decoder
	buf     []byte
	queue   []Record
	done    bool
	readErr error
}

// NewReader wraps r. Records are decoded as Next is called.
func NewReader(r io.Reader, opts ...func(*Decoder)) *Reader {
	dec := NewDecoder()
	for _, opt := range opts {
		opt(dec)
	}
	return &Reader{src: r, dec: dec, buf: make([]byte, decodeBufSize)}
}

// WithDropHandler installs fn as the decoder's OnDrop hook.
func WithDropHandler(fn func(*DecodeError)) func(*Decoder) {
	return func(d *Decoder) {
		d.OnDrop = fn
	}
}

// Next returns the next record. It returns io.EOF once the stream ended cleanly
// and every record has been yielded, or the read error that ended it.
func (r *Reader) Next() (Record, error) {
	for len(r.queue) == 0 {
		if r.done {
			if r.readErr != nil {
				return Record{}, r.readErr
			}
			return Record{}, io.EOF
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			r.queue = append(r.queue, r.dec.Feed(r.buf[:n])...)
		}
		if err != nil {
			r.done = true
			if errors.Is(err, io.EOF) {
				r.queue = append(r.queue, r.dec.Flush()...)
			} else {
				r.readErr = err
			}
		}
	}

	record := r.queue[0]
	r.queue = r.queue[1:]
	return record, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
