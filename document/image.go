package document

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/tsawler/docworker/core"
)

// errEncodedImage is returned by ToPNG when the stream data is still in a
// codec format such as JPEG.
var errEncodedImage = errors.New("image data is encoded")

// pixelImage holds the decoded samples of an image XObject.
type pixelImage struct {
	Name             string
	Width, Height    int
	ColorSpace       string // family name, see colorSpaceName
	BitsPerComponent int
	Data             []byte
	Filter           string // last filter of the chain
}

func newPixelImage(r core.Resolver, name string, stream *core.Stream) (*pixelImage, error) {
	get := func(key string) core.Object { return resolveOr(r, stream.Dict.Get(key)) }

	img := &pixelImage{Name: name, BitsPerComponent: 8}
	var ok bool
	if img.Width, ok = core.ToInt(get("Width")); !ok || img.Width <= 0 {
		return nil, errors.New("invalid image width")
	}
	if img.Height, ok = core.ToInt(get("Height")); !ok || img.Height <= 0 {
		return nil, errors.New("invalid image height")
	}
	if bpc, ok := core.ToInt(get("BitsPerComponent")); ok {
		img.BitsPerComponent = bpc
	}
	if mask, _ := get("ImageMask").(core.Bool); mask {
		img.BitsPerComponent = 1
	}
	switch f := get("Filter").(type) {
	case core.Name:
		img.Filter = string(f)
	case core.Array:
		if n, ok := f.GetName(len(f) - 1); ok {
			img.Filter = string(n)
		}
	}
	img.ColorSpace = colorSpaceName(r, stream.Dict.Get("ColorSpace"), 0)

	var err error
	if img.Data, err = stream.Decode(); err != nil {
		return nil, fmt.Errorf("decode image stream: %w", err)
	}
	return img, nil
}

func resolveOr(r core.Resolver, obj core.Object) core.Object {
	if v, err := r.Resolve(obj); err == nil {
		return v
	}
	return nil
}

// colorSpaceName reduces a color space to a device family. Indexed spaces
// report their base and ICCBased spaces are named by component count.
func colorSpaceName(r core.Resolver, obj core.Object, depth int) string {
	v := resolveOr(r, obj)
	if n, ok := v.(core.Name); ok {
		return string(n)
	}
	arr, ok := v.(core.Array)
	if !ok || depth > 4 {
		return "DeviceGray"
	}
	family, _ := arr.GetName(0)
	switch {
	case family == "Indexed" && len(arr) > 1:
		return colorSpaceName(r, arr[1], depth+1)
	case family == "ICCBased" && len(arr) > 1:
		s, _ := resolveOr(r, arr[1]).(*core.Stream)
		if s == nil {
			break
		}
		if n, _ := core.ToInt(s.Dict.Get("N")); n == 3 {
			return "DeviceRGB"
		} else if n == 4 {
			return "DeviceCMYK"
		}
	case family != "":
		return string(family)
	}
	return "DeviceGray"
}

// components returns the sample count per pixel of the image's family.
func (img *pixelImage) components() int {
	switch img.ColorSpace {
	case "DeviceRGB", "CalRGB", "RGB":
		return 3
	case "DeviceCMYK", "CMYK":
		return 4
	}
	return 1
}

// ToPNG encodes the samples as PNG. Gray images may use 1, 2, 4 or 8 bits
// per sample; color images need 8.
func (img *pixelImage) ToPNG() ([]byte, error) {
	switch img.Filter {
	case "DCTDecode", "DCT", "JPXDecode", "JBIG2Decode":
		return nil, errEncodedImage
	}

	var (
		out image.Image
		err error
	)
	switch img.components() {
	case 1:
		out, err = img.gray()
	default:
		out, err = img.color()
	}
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// rows checks that Data holds Height rows of stride bytes each.
func (img *pixelImage) rows(stride int) error {
	if need := stride * img.Height; len(img.Data) < need {
		return fmt.Errorf("insufficient image data: got %d bytes, want %d", len(img.Data), need)
	}
	return nil
}

// gray expands packed samples to 8 bits. Rows start on a byte boundary
// and a set bit is white.
func (img *pixelImage) gray() (*image.Gray, error) {
	bpc := img.BitsPerComponent
	if bpc != 1 && bpc != 2 && bpc != 4 && bpc != 8 {
		return nil, fmt.Errorf("unsupported bits per component: %d", bpc)
	}
	stride := (img.Width*bpc + 7) / 8
	if err := img.rows(stride); err != nil {
		return nil, err
	}
	scale := byte(255 / (1<<bpc - 1))
	mask := byte(1<<bpc - 1)
	g := image.NewGray(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		row := img.Data[y*stride:]
		for x := 0; x < img.Width; x++ {
			bit := x * bpc
			v := row[bit/8] >> (8 - bpc - bit%8) & mask
			g.Pix[y*g.Stride+x] = v * scale
		}
	}
	return g, nil
}

// color builds an RGB or CMYK image from 8-bit samples.
func (img *pixelImage) color() (image.Image, error) {
	if img.BitsPerComponent != 8 {
		return nil, fmt.Errorf("unsupported bits per component for %s: %d", img.ColorSpace, img.BitsPerComponent)
	}
	n := img.components()
	if err := img.rows(img.Width * n); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, img.Width, img.Height)
	if n == 4 {
		c := image.NewCMYK(rect)
		copy(c.Pix, img.Data)
		return c, nil
	}
	rgba := image.NewNRGBA(rect)
	for i := 0; i < img.Width*img.Height; i++ {
		copy(rgba.Pix[4*i:], img.Data[3*i:3*i+3])
		rgba.Pix[4*i+3] = 0xff
	}
	return rgba, nil
}
