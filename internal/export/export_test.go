package export

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func half(v float32) uint16 { return float16.Fromfloat32(v).Bits() }

func gradient(width, height int) *HalfImage {
	img := &HalfImage{Width: width, Height: height, Pixels: make([]uint16, width*height*4)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			img.Pixels[i+0] = half(float32(x) / float32(width))
			img.Pixels[i+1] = half(float32(y) / float32(height))
			img.Pixels[i+2] = half(0.25)
			img.Pixels[i+3] = half(1)
		}
	}
	return img
}

type exrFile struct {
	attrs  map[string][]byte
	chunks map[int32][]byte
}

func readEXR(t *testing.T, data []byte) exrFile {
	t.Helper()
	r := bytes.NewReader(data)
	var magic, version int32
	require.NoError(t, binary.Read(r, binary.LittleEndian, &magic))
	require.NoError(t, binary.Read(r, binary.LittleEndian, &version))
	require.EqualValues(t, exrMagic, magic)
	require.EqualValues(t, 2, version)

	cstring := func() string {
		var s []byte
		for {
			b, err := r.ReadByte()
			require.NoError(t, err)
			if b == 0 {
				return string(s)
			}
			s = append(s, b)
		}
	}

	f := exrFile{attrs: map[string][]byte{}, chunks: map[int32][]byte{}}
	for {
		name := cstring()
		if name == "" {
			break
		}
		cstring()
		var size int32
		require.NoError(t, binary.Read(r, binary.LittleEndian, &size))
		value := make([]byte, size)
		_, err := io.ReadFull(r, value)
		require.NoError(t, err)
		f.attrs[name] = value
	}

	var window [4]int32
	require.NoError(t, binary.Read(bytes.NewReader(f.attrs["dataWindow"]), binary.LittleEndian, &window))
	height := int(window[3]-window[1]) + 1
	offsets := make([]uint64, (height+exrZIPLines-1)/exrZIPLines)
	require.NoError(t, binary.Read(r, binary.LittleEndian, offsets))

	for _, off := range offsets {
		cr := bytes.NewReader(data[off:])
		var head [2]int32
		require.NoError(t, binary.Read(cr, binary.LittleEndian, &head))
		chunk := make([]byte, head[1])
		_, err := io.ReadFull(cr, chunk)
		require.NoError(t, err)
		f.chunks[head[0]] = chunk
	}
	return f
}

func inflate(t *testing.T, chunk []byte, rawSize int) []byte {
	t.Helper()
	if len(chunk) == rawSize {
		return chunk
	}
	zr, err := zlib.NewReader(bytes.NewReader(chunk))
	require.NoError(t, err)
	tmp, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Len(t, tmp, rawSize)

	for i := 1; i < len(tmp); i++ {
		tmp[i] = byte(int(tmp[i-1]) + int(tmp[i]) - 128)
	}
	out := make([]byte, len(tmp))
	half := (len(tmp) + 1) / 2
	for i := range out {
		if i%2 == 0 {
			out[i] = tmp[i/2]
		} else {
			out[i] = tmp[half+i/2]
		}
	}
	return out
}

func TestWriteEXRRoundTripsThroughZIPChunks(t *testing.T) {
	img := gradient(24, 20)
	var buf bytes.Buffer
	require.NoError(t, WriteEXR(&buf, img))

	f := readEXR(t, buf.Bytes())
	require.Equal(t, []byte{exrCompressionZIP}, f.attrs["compression"])
	require.Equal(t, channelList(), f.attrs["channels"])
	require.Len(t, f.chunks, 2)

	for first, chunk := range f.chunks {
		rows := min(exrZIPLines, img.Height-int(first))
		raw := inflate(t, chunk, rows*img.Width*4*2)
		for row := 0; row < rows; row++ {
			y := int(first) + row
			line := raw[row*img.Width*8:]
			for c, ch := range exrChannels {
				for x := 0; x < img.Width; x++ {
					got := binary.LittleEndian.Uint16(line[(c*img.Width+x)*2:])
					want := img.Pixels[(y*img.Width+x)*4+ch.offset]
					require.Equal(t, want, got, "channel %s at %d,%d", ch.name, x, y)
				}
			}
		}
	}
}

func TestCompressZIPStoresRawWhenItDoesNotShrink(t *testing.T) {
	raw := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	out, err := compressZIP(raw)
	require.NoError(t, err)
	require.Equal(t, raw, out)

	flat := make([]byte, 4096)
	out, err = compressZIP(flat)
	require.NoError(t, err)
	require.Less(t, len(out), len(flat))
}

func TestWriteEXRRejectsMismatchedPixels(t *testing.T) {
	err := WriteEXR(io.Discard, &HalfImage{Width: 2, Height: 2, Pixels: make([]uint16, 3)})
	require.Error(t, err)
	err = WriteEXR(io.Discard, &HalfImage{})
	require.ErrorIs(t, err, errEmptyImage)
}

func TestWritePNGClampsToEightBits(t *testing.T) {
	img := &HalfImage{Width: 2, Height: 1, Pixels: []uint16{
		half(1), half(0.5), half(-1), half(1),
		half(2), half(0), half(0.25), half(0.5),
	}}
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, img))

	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, 2, decoded.Bounds().Dx())

	nrgba := img.NRGBA()
	assert.Equal(t, []uint8{255, 128, 0, 255, 255, 0, 64, 128}, nrgba.Pix)
}

func TestHalfImageFromBytes(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint16(data[0:], half(1))
	binary.LittleEndian.PutUint16(data[6:], half(0.5))

	img, err := HalfImageFromBytes(1, 1, data)
	require.NoError(t, err)
	assert.Equal(t, []uint16{half(1), 0, 0, half(0.5)}, img.Pixels)

	_, err = HalfImageFromBytes(2, 1, data)
	require.Error(t, err)
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	img := gradient(4, 4)

	for _, format := range []Format{EXR, PNG} {
		path, err := Save(dir, "skyview", format, img)
		require.NoError(t, err)
		require.Equal(t, filepath.Join(dir, "skyview."+string(format)), path)
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Positive(t, info.Size())
	}

	_, err := Save(dir, "skyview", "tiff", img)
	require.Error(t, err)
	_, err = Save(filepath.Join(dir, "missing"), "skyview", EXR, img)
	require.Error(t, err)
}
