// Package fits implements the subset of the FITS format this tool
// needs: single-HDU two-dimensional images with integer or IEEE float
// pixels, ordered header cards, and header-only update-in-place.
package fits

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	blockSize     = 2880
	cardSize      = 80
	cardsPerBlock = blockSize / cardSize
)

// Image is a single two-dimensional FITS image.
//
// For integer BITPIX (8/16/32) Data holds physical values, with the
// file's BZERO/BSCALE already applied on read (so an unsigned 16-bit
// camera frame reads back as 0..65535). For floating-point BITPIX
// (-32/-64) Data holds the stored values verbatim; any BZERO offset
// recorded in the header is left to the caller to interpret.
type Image struct {
	Header *Header
	Bitpix int
	Width  int
	Height int
	Data   []float64

	headerBytes int // on-disk header length, for update-in-place
}

// NewImage creates an image with an empty header and zeroed data
func NewImage(bitpix, width, height int) *Image {
	return &Image{
		Header: NewHeader(),
		Bitpix: bitpix,
		Width:  width,
		Height: height,
		Data:   make([]float64, width*height),
	}
}

// At returns the pixel value at (x, y)
func (img *Image) At(x, y int) float64 {
	return img.Data[y*img.Width+x]
}

// Open reads a FITS image from disk, header and pixels
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FITS file: %w", err)
	}
	defer f.Close()
	return read(f, false)
}

// OpenHeader reads only the header of a FITS file
func OpenHeader(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FITS file: %w", err)
	}
	defer f.Close()
	return read(f, true)
}

func read(r io.Reader, headerOnly bool) (*Image, error) {
	hdr := NewHeader()
	var bitpix, naxis, width, height int
	bzero := 0.0
	bscale := 1.0
	headerDone := false
	headerBytes := 0

	recordBuf := make([]byte, cardSize)

	for !headerDone {
		for i := 0; i < cardsPerBlock; i++ {
			if _, err := io.ReadFull(r, recordBuf); err != nil {
				return nil, fmt.Errorf("failed to read header record: %w", err)
			}
			record := string(recordBuf)
			keyword := trimRightSpace(record[:8])

			if keyword == "END" {
				headerDone = true
				remaining := cardsPerBlock - 1 - i
				if remaining > 0 {
					skipBuf := make([]byte, remaining*cardSize)
					if _, err := io.ReadFull(r, skipBuf); err != nil {
						return nil, fmt.Errorf("failed to read header padding: %w", err)
					}
				}
				break
			}

			if keyword == "HISTORY" || keyword == "COMMENT" {
				hdr.cards = append(hdr.cards, Card{Key: keyword, Value: trimRightSpace(record[8:])})
				continue
			}

			if len(record) > 10 && record[8] == '=' && record[9] == ' ' {
				rawValue := trimSpace(splitComment(record[10:]))
				value, isString := parseValue(rawValue)

				if keyword != "" {
					hdr.cards = append(hdr.cards, Card{Key: keyword, Value: value, IsString: isString})
				}

				switch keyword {
				case "BITPIX":
					bitpix = atoiLoose(rawValue)
				case "NAXIS":
					naxis = atoiLoose(rawValue)
				case "NAXIS1":
					width = atoiLoose(rawValue)
				case "NAXIS2":
					height = atoiLoose(rawValue)
				case "BZERO":
					bzero = atofLoose(rawValue)
				case "BSCALE":
					bscale = atofLoose(rawValue)
				}
			}
		}
		headerBytes += blockSize
	}

	if naxis < 2 || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid FITS image: NAXIS=%d NAXIS1=%d NAXIS2=%d", naxis, width, height)
	}

	img := &Image{
		Header:      hdr,
		Bitpix:      bitpix,
		Width:       width,
		Height:      height,
		headerBytes: headerBytes,
	}

	if headerOnly {
		return img, nil
	}

	numPixels := width * height
	data := make([]float64, numPixels)

	switch bitpix {
	case 8:
		raw := make([]byte, numPixels)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("failed to read 8-bit pixel data: %w", err)
		}
		for i := 0; i < numPixels; i++ {
			data[i] = float64(raw[i])*bscale + bzero
		}

	case 16:
		raw := make([]byte, numPixels*2)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("failed to read 16-bit pixel data: %w", err)
		}
		for i := 0; i < numPixels; i++ {
			signed := int16(binary.BigEndian.Uint16(raw[i*2:]))
			data[i] = float64(signed)*bscale + bzero
		}

	case 32:
		raw := make([]byte, numPixels*4)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("failed to read 32-bit pixel data: %w", err)
		}
		for i := 0; i < numPixels; i++ {
			signed := int32(binary.BigEndian.Uint32(raw[i*4:]))
			data[i] = float64(signed)*bscale + bzero
		}

	case -32:
		raw := make([]byte, numPixels*4)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("failed to read float pixel data: %w", err)
		}
		for i := 0; i < numPixels; i++ {
			bits := binary.BigEndian.Uint32(raw[i*4:])
			data[i] = float64(math.Float32frombits(bits))
		}

	case -64:
		raw := make([]byte, numPixels*8)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("failed to read double pixel data: %w", err)
		}
		for i := 0; i < numPixels; i++ {
			bits := binary.BigEndian.Uint64(raw[i*8:])
			data[i] = math.Float64frombits(bits)
		}

	default:
		return nil, fmt.Errorf("unsupported BITPIX: %d", bitpix)
	}

	img.Data = data
	return img, nil
}

// Write serializes an image to disk. Integer BITPIX values are encoded
// with the conventional unsigned offset (BZERO=32768 for 16-bit), so
// Data is interpreted as physical values and shifted back to the signed
// on-disk representation. Float BITPIX writes Data verbatim and leaves
// any BZERO/BSCALE cards under the caller's control.
func Write(path string, img *Image) error {
	var buf bytes.Buffer
	if err := encode(&buf, img); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write FITS file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize FITS file: %w", err)
	}
	return nil
}

func encode(w io.Writer, img *Image) error {
	if len(img.Data) != img.Width*img.Height {
		return fmt.Errorf("pixel count %d does not match %dx%d", len(img.Data), img.Width, img.Height)
	}

	// Integer encodings carry the unsigned-offset convention; make the
	// header reflect it so readers reconstruct physical values.
	switch img.Bitpix {
	case 8:
		img.Header.SetFloat("BZERO", 0.0, "")
		img.Header.SetFloat("BSCALE", 1.0, "")
	case 16:
		img.Header.SetFloat("BZERO", 32768.0, "offset for unsigned 16-bit")
		img.Header.SetFloat("BSCALE", 1.0, "")
	}

	var hdrBuf bytes.Buffer
	hdrBuf.WriteString(formatCard(Card{Key: "SIMPLE", Value: "T", Comment: "conforms to FITS standard"}))
	hdrBuf.WriteString(formatCard(Card{Key: "BITPIX", Value: fmt.Sprintf("%d", img.Bitpix)}))
	hdrBuf.WriteString(formatCard(Card{Key: "NAXIS", Value: "2"}))
	hdrBuf.WriteString(formatCard(Card{Key: "NAXIS1", Value: fmt.Sprintf("%d", img.Width)}))
	hdrBuf.WriteString(formatCard(Card{Key: "NAXIS2", Value: fmt.Sprintf("%d", img.Height)}))
	for _, c := range img.Header.cards {
		if isStructural(c.Key) {
			continue
		}
		hdrBuf.WriteString(formatCard(c))
	}
	hdrBuf.WriteString(formatCard(Card{Key: "END"}))
	padBlock(&hdrBuf, ' ')

	if _, err := w.Write(hdrBuf.Bytes()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	var dataBuf bytes.Buffer
	switch img.Bitpix {
	case 8:
		for _, v := range img.Data {
			dataBuf.WriteByte(byte(clamp(math.Round(v), 0, 255)))
		}
	case 16:
		var b [2]byte
		for _, v := range img.Data {
			physical := clamp(math.Round(v), 0, 65535)
			signed := int16(physical - 32768)
			binary.BigEndian.PutUint16(b[:], uint16(signed))
			dataBuf.Write(b[:])
		}
	case 32:
		var b [4]byte
		for _, v := range img.Data {
			signed := int32(clamp(math.Round(v), math.MinInt32, math.MaxInt32))
			binary.BigEndian.PutUint32(b[:], uint32(signed))
			dataBuf.Write(b[:])
		}
	case -32:
		var b [4]byte
		for _, v := range img.Data {
			binary.BigEndian.PutUint32(b[:], math.Float32bits(float32(v)))
			dataBuf.Write(b[:])
		}
	case -64:
		var b [8]byte
		for _, v := range img.Data {
			binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
			dataBuf.Write(b[:])
		}
	default:
		return fmt.Errorf("unsupported BITPIX for write: %d", img.Bitpix)
	}
	padBlock(&dataBuf, 0)

	if _, err := w.Write(dataBuf.Bytes()); err != nil {
		return fmt.Errorf("failed to write pixel data: %w", err)
	}
	return nil
}

// UpdateHeader applies fn to the header of an existing file. When the
// modified header still fits the original block span the header is
// rewritten in place; otherwise the whole file is rewritten with the
// pixel data carried over untouched.
func UpdateHeader(path string, fn func(*Header)) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read FITS file: %w", err)
	}

	img, err := read(bytes.NewReader(raw), true)
	if err != nil {
		return err
	}

	fn(img.Header)

	var hdrBuf bytes.Buffer
	// Preserve the structural cards from the original file verbatim
	hdrBuf.WriteString(formatCard(Card{Key: "SIMPLE", Value: "T", Comment: "conforms to FITS standard"}))
	hdrBuf.WriteString(formatCard(Card{Key: "BITPIX", Value: fmt.Sprintf("%d", img.Bitpix)}))
	hdrBuf.WriteString(formatCard(Card{Key: "NAXIS", Value: "2"}))
	hdrBuf.WriteString(formatCard(Card{Key: "NAXIS1", Value: fmt.Sprintf("%d", img.Width)}))
	hdrBuf.WriteString(formatCard(Card{Key: "NAXIS2", Value: fmt.Sprintf("%d", img.Height)}))
	for _, c := range img.Header.cards {
		if isStructural(c.Key) {
			continue
		}
		hdrBuf.WriteString(formatCard(c))
	}
	hdrBuf.WriteString(formatCard(Card{Key: "END"}))
	padBlock(&hdrBuf, ' ')

	if hdrBuf.Len() == img.headerBytes {
		// In-place rewrite of the header blocks only
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return fmt.Errorf("failed to open FITS file for update: %w", err)
		}
		defer f.Close()
		if _, err := f.WriteAt(hdrBuf.Bytes(), 0); err != nil {
			return fmt.Errorf("failed to update header in place: %w", err)
		}
		return nil
	}

	// Header grew past a block boundary; rewrite the file
	var out bytes.Buffer
	out.Write(hdrBuf.Bytes())
	out.Write(raw[img.headerBytes:])

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to rewrite FITS file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize FITS file: %w", err)
	}
	return nil
}

func padBlock(buf *bytes.Buffer, fill byte) {
	for buf.Len()%blockSize != 0 {
		buf.WriteByte(fill)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func trimSpace(s string) string {
	return trimLeftSpace(trimRightSpace(s))
}

func trimRightSpace(s string) string {
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

func trimLeftSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	return s
}

// splitComment removes an inline " / comment" from a raw value,
// respecting quoted strings.
func splitComment(s string) string {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inQuote = !inQuote
		case '/':
			if !inQuote {
				return s[:i]
			}
		}
	}
	return s
}

func atoiLoose(s string) int {
	var n int
	fmt.Sscanf(trimSpace(s), "%d", &n)
	return n
}

func atofLoose(s string) float64 {
	var f float64
	fmt.Sscanf(trimSpace(s), "%g", &f)
	return f
}
