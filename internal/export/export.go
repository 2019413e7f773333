// Package export writes captured RGBA16F images to disk as OpenEXR or PNG.
package export

import (
	"encoding/binary"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/x448/float16"

	"github.com/vkngwrapper/atmosphere/internal/logging"
)

// HalfImage holds interleaved RGBA half-float samples, row-major from the
// top-left.
type HalfImage struct {
	Width  int
	Height int
	Pixels []uint16
}

// HalfImageFromBytes decodes little-endian RGBA16F texels, as copied out of
// an R16G16B16A16_SFLOAT image.
func HalfImageFromBytes(width, height int, data []byte) (*HalfImage, error) {
	if want := width * height * 8; len(data) < want {
		return nil, errors.Newf("%dx%d RGBA16F image needs %d bytes, got %d", width, height, want, len(data))
	}
	img := &HalfImage{Width: width, Height: height, Pixels: make([]uint16, width*height*4)}
	for i := range img.Pixels {
		img.Pixels[i] = binary.LittleEndian.Uint16(data[i*2:])
	}
	return img, img.validate()
}

// NRGBA converts to 8 bits per channel, clamping each sample to [0, 1].
func (img *HalfImage) NRGBA() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for i, bits := range img.Pixels {
		out.Pix[i] = to8(float16.Frombits(bits).Float32())
	}
	return out
}

func to8(v float32) uint8 {
	switch {
	case v != v, v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

func WritePNG(w io.Writer, img *HalfImage) error {
	if err := img.validate(); err != nil {
		return err
	}
	return errors.Wrap(png.Encode(w, img.NRGBA()), "encode png")
}

// Format picks an encoder.
type Format string

const (
	EXR Format = "exr"
	PNG Format = "png"
)

// Save writes img to dir/name with the extension of format and returns
// the path written.
func Save(dir, name string, format Format, img *HalfImage) (string, error) {
	var encode func(io.Writer, *HalfImage) error
	switch format {
	case EXR:
		encode = WriteEXR
	case PNG:
		encode = WritePNG
	default:
		return "", errors.Newf("unknown image format %q", format)
	}

	path := filepath.Join(dir, name+"."+string(format))
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "create %s", path)
	}
	if err := encode(f, img); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", errors.Wrapf(err, "write %s", path)
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, "close %s", path)
	}

	logging.Logger().Info("image saved", "path", path, "width", img.Width, "height", img.Height)
	return path, nil
}
