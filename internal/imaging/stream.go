package imaging

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"io"

	"github.com/klauspost/compress/zlib"
)

// ErrBandOverflow is returned when more rows are written than the image
// declared.
var ErrBandOverflow = errors.New("imaging: band exceeds image height")

// BandWriter writes an image as a sequence of full-width horizontal bands,
// top to bottom. Close must be called after the last band.
type BandWriter interface {
	WriteBand(band *image.NRGBA) error
	Close() error
}

// NewBandWriter returns a writer producing format on w for an image of
// the given size. PNG output is streamed band by band; other formats are
// assembled in memory and encoded on Close.
func NewBandWriter(w io.Writer, format Format, size image.Point, quality int) (BandWriter, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, ErrInvalidSize
	}
	if !format.CanWrite() {
		return nil, fmt.Errorf("%w: cannot encode %q", ErrUnsupportedFormat, format)
	}
	if format == FormatPNG {
		return newPNGStream(w, size)
	}
	return &bufferedBands{w: w, format: format, quality: quality, canvas: Blank(size)}, nil
}

// bufferedBands collects bands into one canvas for formats whose encoders
// need the whole image.
type bufferedBands struct {
	w       io.Writer
	format  Format
	quality int
	canvas  *image.NRGBA
	y       int
}

func (b *bufferedBands) WriteBand(band *image.NRGBA) error {
	if b.y+band.Rect.Dy() > b.canvas.Rect.Dy() {
		return ErrBandOverflow
	}
	Paste(b.canvas, band, image.Pt(0, b.y))
	b.y += band.Rect.Dy()
	return nil
}

func (b *bufferedBands) Close() error {
	return Encode(b.w, b.canvas, b.format, b.quality)
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// pngStream is a PNG encoder that accepts rows incrementally. Rows use
// filter type None; compression is done by a zlib stream whose output is
// cut into IDAT chunks.
type pngStream struct {
	w      io.Writer
	size   image.Point
	y      int
	idat   *chunkWriter
	zw     *zlib.Writer
	row    []byte
	closed bool
}

func newPNGStream(w io.Writer, size image.Point) (*pngStream, error) {
	s := &pngStream{
		w:    w,
		size: size,
		row:  make([]byte, 1+size.X*4),
	}
	if _, err := w.Write(pngSignature); err != nil {
		return nil, fmt.Errorf("imaging: write png signature: %w", err)
	}
	var ihdr [13]byte
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(size.X))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(size.Y))
	ihdr[8] = 8  // bit depth
	ihdr[9] = 6  // color type RGBA
	ihdr[10] = 0 // compression
	ihdr[11] = 0 // filter
	ihdr[12] = 0 // interlace
	if err := writeChunk(w, "IHDR", ihdr[:]); err != nil {
		return nil, err
	}
	s.idat = &chunkWriter{w: w, kind: "IDAT", buf: make([]byte, 0, 1<<16)}
	zw, err := zlib.NewWriterLevel(s.idat, zlib.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("imaging: zlib: %w", err)
	}
	s.zw = zw
	return s, nil
}

func (s *pngStream) WriteBand(band *image.NRGBA) error {
	if s.closed {
		return io.ErrClosedPipe
	}
	h := band.Rect.Dy()
	if s.y+h > s.size.Y {
		return ErrBandOverflow
	}
	w := min(band.Rect.Dx(), s.size.X) * 4
	for y := range h {
		clear(s.row)
		off := band.PixOffset(band.Rect.Min.X, band.Rect.Min.Y+y)
		copy(s.row[1:], band.Pix[off:off+w])
		if _, err := s.zw.Write(s.row); err != nil {
			return fmt.Errorf("imaging: compress row: %w", err)
		}
	}
	s.y += h
	return nil
}

func (s *pngStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.y != s.size.Y {
		return fmt.Errorf("imaging: png stream closed after %d of %d rows", s.y, s.size.Y)
	}
	if err := s.zw.Close(); err != nil {
		return fmt.Errorf("imaging: zlib close: %w", err)
	}
	if err := s.idat.Flush(); err != nil {
		return err
	}
	return writeChunk(s.w, "IEND", nil)
}

// chunkWriter buffers bytes and emits them as PNG chunks of one kind.
type chunkWriter struct {
	w    io.Writer
	kind string
	buf  []byte
}

func (c *chunkWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		free := cap(c.buf) - len(c.buf)
		if free == 0 {
			if err := c.Flush(); err != nil {
				return n - len(p), err
			}
			continue
		}
		k := min(free, len(p))
		c.buf = append(c.buf, p[:k]...)
		p = p[k:]
	}
	return n, nil
}

// Flush writes the buffered bytes as one chunk.
func (c *chunkWriter) Flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	err := writeChunk(c.w, c.kind, c.buf)
	c.buf = c.buf[:0]
	return err
}

func writeChunk(w io.Writer, kind string, data []byte) error {
	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(data)))
	copy(header[4:], kind)
	crc := crc32.NewIEEE()
	_, _ = crc.Write(header[4:])
	_, _ = crc.Write(data)
	var footer [4]byte
	binary.BigEndian.PutUint32(footer[:], crc.Sum32())

	for _, part := range [][]byte{header[:], data, footer[:]} {
		if _, err := w.Write(part); err != nil {
			return fmt.Errorf("imaging: write %s chunk: %w", kind, err)
		}
	}
	return nil
}
