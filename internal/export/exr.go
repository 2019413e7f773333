package export

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"math"

	"github.com/cockroachdb/errors"
)

const (
	exrMagic   = 20000630
	exrVersion = 2

	exrPixelHalf = 1

	exrCompressionZIP = 3
	// ZIP compression packs this many scanlines per chunk.
	exrZIPLines = 16
)

// Channels are stored in the order readers expect: sorted by name.
var exrChannels = [...]struct {
	name   string
	offset int
}{
	{"A", 3},
	{"B", 2},
	{"G", 1},
	{"R", 0},
}

type exrHeader struct {
	bytes.Buffer
}

func (h *exrHeader) attribute(name, typ string, value []byte) {
	h.WriteString(name)
	h.WriteByte(0)
	h.WriteString(typ)
	h.WriteByte(0)
	_ = binary.Write(h, binary.LittleEndian, int32(len(value)))
	h.Write(value)
}

func le(values ...any) []byte {
	var buf bytes.Buffer
	for _, v := range values {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	return buf.Bytes()
}

func channelList() []byte {
	var buf bytes.Buffer
	for _, ch := range exrChannels {
		buf.WriteString(ch.name)
		buf.WriteByte(0)
		// pixel type, pLinear and 3 reserved bytes, x and y sampling
		buf.Write(le(int32(exrPixelHalf), [4]uint8{}, int32(1), int32(1)))
	}
	buf.WriteByte(0)
	return buf.Bytes()
}

// WriteEXR encodes img as a scanline OpenEXR file with half channels and
// ZIP compression.
func WriteEXR(w io.Writer, img *HalfImage) error {
	if err := img.validate(); err != nil {
		return err
	}

	var header exrHeader
	_ = binary.Write(&header, binary.LittleEndian, int32(exrMagic))
	_ = binary.Write(&header, binary.LittleEndian, int32(exrVersion))

	window := le(int32(0), int32(0), int32(img.Width-1), int32(img.Height-1))
	header.attribute("channels", "chlist", channelList())
	header.attribute("compression", "compression", []byte{exrCompressionZIP})
	header.attribute("dataWindow", "box2i", window)
	header.attribute("displayWindow", "box2i", window)
	header.attribute("lineOrder", "lineOrder", []byte{0})
	header.attribute("pixelAspectRatio", "float", le(float32(1)))
	header.attribute("screenWindowCenter", "v2f", le(float32(0), float32(0)))
	header.attribute("screenWindowWidth", "float", le(float32(1)))
	header.WriteByte(0)

	chunkCount := (img.Height + exrZIPLines - 1) / exrZIPLines
	chunks := make([][]byte, chunkCount)
	for i := range chunks {
		first := i * exrZIPLines
		last := min(first+exrZIPLines, img.Height)
		data, err := compressZIP(img.scanlines(first, last))
		if err != nil {
			return errors.Wrapf(err, "compress scanlines %d-%d", first, last-1)
		}
		chunks[i] = data
	}

	offset := uint64(header.Len()) + uint64(8*chunkCount)
	table := make([]uint64, chunkCount)
	for i, data := range chunks {
		table[i] = offset
		offset += uint64(8 + len(data))
	}

	if _, err := w.Write(header.Bytes()); err != nil {
		return errors.Wrap(err, "write exr header")
	}
	if err := binary.Write(w, binary.LittleEndian, table); err != nil {
		return errors.Wrap(err, "write exr offset table")
	}
	for i, data := range chunks {
		if err := binary.Write(w, binary.LittleEndian, [2]int32{int32(i * exrZIPLines), int32(len(data))}); err != nil {
			return errors.Wrapf(err, "write exr chunk %d", i)
		}
		if _, err := w.Write(data); err != nil {
			return errors.Wrapf(err, "write exr chunk %d", i)
		}
	}
	return nil
}

// scanlines lays out rows [first, last) the way a chunk stores them: per
// row, each channel's samples contiguously.
func (img *HalfImage) scanlines(first, last int) []byte {
	out := make([]byte, 0, (last-first)*img.Width*len(exrChannels)*2)
	for y := first; y < last; y++ {
		row := img.Pixels[y*img.Width*4 : (y+1)*img.Width*4]
		for _, ch := range exrChannels {
			for x := 0; x < img.Width; x++ {
				out = binary.LittleEndian.AppendUint16(out, row[x*4+ch.offset])
			}
		}
	}
	return out
}

// compressZIP splits even and odd bytes, delta-encodes the result and
// deflates it. When that does not shrink the data the raw bytes are
// stored, which readers recognize by the unchanged size.
func compressZIP(raw []byte) ([]byte, error) {
	tmp := make([]byte, len(raw))
	half := (len(raw) + 1) / 2
	for i, b := range raw {
		if i%2 == 0 {
			tmp[i/2] = b
		} else {
			tmp[half+i/2] = b
		}
	}

	prev := tmp[0]
	for i := 1; i < len(tmp); i++ {
		cur := tmp[i]
		tmp[i] = byte(int(cur) - int(prev) + 128)
		prev = cur
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(tmp); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	if buf.Len() >= len(raw) {
		return raw, nil
	}
	return buf.Bytes(), nil
}

var errEmptyImage = errors.New("image has no pixels")

func (img *HalfImage) validate() error {
	if img.Width <= 0 || img.Height <= 0 {
		return errors.Wrapf(errEmptyImage, "%dx%d", img.Width, img.Height)
	}
	if want := img.Width * img.Height * 4; len(img.Pixels) != want {
		return errors.Newf("%dx%d image needs %d half samples, has %d", img.Width, img.Height, want, len(img.Pixels))
	}
	if img.Width > math.MaxInt32 || img.Height > math.MaxInt32 {
		return errors.Newf("%dx%d image is too large", img.Width, img.Height)
	}
	return nil
}
