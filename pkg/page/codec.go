package page

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/s2"
)

// ContentType is the media type of a serialized page stream.
const ContentType = "application/x-exchange-pages"

const (
	// frameHeaderSize is positionCount(4) + channelCount(4) + flags(1) +
	// uncompressedSize(4) + payloadSize(4) + checksum(8).
	frameHeaderSize = 25

	// checksumOffset is where the checksum starts; every header byte before
	// it is covered by the checksum together with the payload.
	checksumOffset = 17

	flagCompressed byte = 1 << 0

	// MaxFrameSize bounds the payload a decoder will allocate for one page.
	MaxFrameSize = 256 << 20

	// DefaultMinCompressSize is the smallest payload worth compressing.
	DefaultMinCompressSize = 512
)

var (
	// ErrCorruptPage indicates a frame that failed validation while decoding.
	ErrCorruptPage = errors.New("corrupt page frame")
)

// EncoderOptions controls how pages are written.
type EncoderOptions struct {
	// Compress enables s2 compression of page payloads.
	Compress bool

	// MinCompressSize skips compression for payloads smaller than this.
	MinCompressSize int
}

// Encoder writes framed pages to a stream.
type Encoder struct {
	w    io.Writer
	opts EncoderOptions
	buf  []byte
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer, opts EncoderOptions) *Encoder {
	if opts.MinCompressSize <= 0 {
		opts.MinCompressSize = DefaultMinCompressSize
	}
	return &Encoder{w: w, opts: opts}
}

// Encode writes a single page frame.
func (e *Encoder) Encode(p *Page) error {
	raw := e.buf[:0]
	for _, b := range p.blocks {
		raw = binary.LittleEndian.AppendUint32(raw, uint32(len(b)))
		raw = append(raw, b...)
	}
	e.buf = raw

	payload := raw
	var flags byte
	if e.opts.Compress && len(raw) >= e.opts.MinCompressSize {
		compressed := s2.Encode(nil, raw)
		if len(compressed) < len(raw) {
			payload = compressed
			flags |= flagCompressed
		}
	}

	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:], uint32(p.positionCount))
	binary.LittleEndian.PutUint32(header[4:], uint32(len(p.blocks)))
	header[8] = flags
	binary.LittleEndian.PutUint32(header[9:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(header[13:], uint32(len(payload)))
	binary.LittleEndian.PutUint64(header[17:], frameChecksum(header[:checksumOffset], payload))

	if _, err := e.w.Write(header[:]); err != nil {
		return fmt.Errorf("write page header: %w", err)
	}
	if _, err := e.w.Write(payload); err != nil {
		return fmt.Errorf("write page payload: %w", err)
	}
	return nil
}

// Decoder reads framed pages from a stream.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads the next page. It returns io.EOF when the stream ends cleanly
// on a frame boundary; any other failure wraps ErrCorruptPage.
func (d *Decoder) Decode() (*Page, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: read header: %v", ErrCorruptPage, err)
	}

	positionCount := binary.LittleEndian.Uint32(header[0:])
	channelCount := binary.LittleEndian.Uint32(header[4:])
	flags := header[8]
	rawSize := binary.LittleEndian.Uint32(header[9:])
	payloadSize := binary.LittleEndian.Uint32(header[13:])
	checksum := binary.LittleEndian.Uint64(header[checksumOffset:])

	if payloadSize > MaxFrameSize || rawSize > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrCorruptPage, payloadSize)
	}
	// Every channel carries at least its 4-byte length prefix.
	if channelCount > rawSize/4 {
		return nil, fmt.Errorf("%w: %d channels in %d bytes", ErrCorruptPage, channelCount, rawSize)
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, fmt.Errorf("%w: read payload: %v", ErrCorruptPage, err)
	}
	if frameChecksum(header[:checksumOffset], payload) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptPage)
	}

	raw := payload
	if flags&flagCompressed != 0 {
		decoded, err := s2.Decode(make([]byte, 0, rawSize), payload)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrCorruptPage, err)
		}
		raw = decoded
	}
	if uint32(len(raw)) != rawSize {
		return nil, fmt.Errorf("%w: payload size %d, header says %d", ErrCorruptPage, len(raw), rawSize)
	}

	blocks := make([][]byte, 0, channelCount)
	for i := uint32(0); i < channelCount; i++ {
		if len(raw) < 4 {
			return nil, fmt.Errorf("%w: truncated block header for channel %d", ErrCorruptPage, i)
		}
		n := binary.LittleEndian.Uint32(raw)
		raw = raw[4:]
		if uint32(len(raw)) < n {
			return nil, fmt.Errorf("%w: truncated block for channel %d", ErrCorruptPage, i)
		}
		blocks = append(blocks, raw[:n:n])
		raw = raw[n:]
	}
	if len(raw) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptPage, len(raw))
	}

	return New(int(positionCount), blocks...), nil
}

// frameChecksum hashes the frame header fields and the payload.
func frameChecksum(header, payload []byte) uint64 {
	d := xxhash.New()
	d.Write(header)
	d.Write(payload)
	return d.Sum64()
}

// WritePages encodes all pages to w.
func WritePages(w io.Writer, pages []*Page, opts EncoderOptions) error {
	enc := NewEncoder(w, opts)
	for _, p := range pages {
		if err := enc.Encode(p); err != nil {
			return err
		}
	}
	return nil
}

// ReadPages decodes pages from r until the stream ends.
func ReadPages(r io.Reader) ([]*Page, error) {
	dec := NewDecoder(r)
	var pages []*Page
	for {
		p, err := dec.Decode()
		if err == io.EOF {
			return pages, nil
		}
		if err != nil {
			return pages, err
		}
		pages = append(pages, p)
	}
}
