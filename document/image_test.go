package document

import (
	"bytes"
	"errors"
	"image/png"
	"testing"

	"github.com/tsawler/docworker/core"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// TestPixelImageToPNG tests conversion of the supported pixel formats
func TestPixelImageToPNG(t *testing.T) {
	tests := []struct {
		name    string
		img     pixelImage
		wantErr bool
	}{
		{"gray 8-bit", pixelImage{Width: 2, Height: 2, ColorSpace: "DeviceGray", BitsPerComponent: 8, Data: []byte{0, 128, 64, 255}}, false},
		{"bilevel", pixelImage{Width: 8, Height: 1, ColorSpace: "DeviceGray", BitsPerComponent: 1, Data: []byte{0xAA}}, false},
		{"gray 4-bit", pixelImage{Width: 3, Height: 1, ColorSpace: "DeviceGray", BitsPerComponent: 4, Data: []byte{0x0F, 0x80}}, false},
		{"rgb", pixelImage{Width: 2, Height: 1, ColorSpace: "DeviceRGB", BitsPerComponent: 8, Data: []byte{255, 0, 0, 0, 255, 0}}, false},
		{"cmyk", pixelImage{Width: 1, Height: 1, ColorSpace: "DeviceCMYK", BitsPerComponent: 8, Data: []byte{0, 255, 255, 0}}, false},
		{"insufficient data", pixelImage{Width: 4, Height: 4, ColorSpace: "DeviceGray", BitsPerComponent: 8, Data: []byte{1, 2}}, true},
		{"unsupported depth", pixelImage{Width: 1, Height: 1, ColorSpace: "DeviceGray", BitsPerComponent: 16, Data: []byte{0, 0}}, true},
		{"rgb 4-bit", pixelImage{Width: 1, Height: 1, ColorSpace: "DeviceRGB", BitsPerComponent: 4, Data: []byte{0, 0}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.img.ToPNG()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ToPNG failed: %v", err)
			}
			if !bytes.HasPrefix(data, pngMagic) {
				t.Errorf("missing PNG signature: % x", data[:min(8, len(data))])
			}
		})
	}
}

// TestPixelImageEncoded tests that codec data is not reinterpreted as pixels
func TestPixelImageEncoded(t *testing.T) {
	img := pixelImage{Width: 1, Height: 1, ColorSpace: "DeviceRGB", BitsPerComponent: 8, Data: []byte{0xFF, 0xD8, 0xFF}, Filter: "DCTDecode"}
	if _, err := img.ToPNG(); !errors.Is(err, errEncodedImage) {
		t.Errorf("ToPNG() error = %v, want errEncodedImage", err)
	}
}

// TestBilevelPixels tests that set bits become white
func TestBilevelPixels(t *testing.T) {
	img := pixelImage{Width: 16, Height: 1, BitsPerComponent: 1, Data: []byte{0xFF, 0x00}}
	gray, err := img.gray()
	if err != nil {
		t.Fatal(err)
	}
	for x := 0; x < 16; x++ {
		want := uint8(255)
		if x >= 8 {
			want = 0
		}
		if got := gray.GrayAt(x, 0).Y; got != want {
			t.Errorf("pixel %d = %d, want %d", x, got, want)
		}
	}
}

// TestGrayRoundTrip tests that 8-bit samples survive PNG encoding
func TestGrayRoundTrip(t *testing.T) {
	data := []byte{10, 20, 30, 40, 50, 60}
	img := pixelImage{Width: 3, Height: 2, ColorSpace: "DeviceGray", BitsPerComponent: 8, Data: data}
	out, err := img.ToPNG()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range data {
		r, _, _, _ := decoded.At(i%3, i/3).RGBA()
		if got := uint8(r >> 8); got != want {
			t.Errorf("pixel %d = %d, want %d", i, got, want)
		}
	}
}

// TestColorSpaceName tests reduction of color space objects
func TestColorSpaceName(t *testing.T) {
	icc := &core.Stream{Dict: core.Dict{"N": core.Int(3)}}
	r := resolverFunc(func(obj core.Object) (core.Object, error) { return obj, nil })
	tests := []struct {
		obj  core.Object
		want string
	}{
		{nil, "DeviceGray"},
		{core.Name("DeviceCMYK"), "DeviceCMYK"},
		{core.Array{core.Name("Indexed"), core.Name("DeviceRGB"), core.Int(255), core.String("")}, "DeviceRGB"},
		{core.Array{core.Name("ICCBased"), icc}, "DeviceRGB"},
		{core.Array{}, "DeviceGray"},
	}
	for _, tt := range tests {
		if got := colorSpaceName(r, tt.obj, 0); got != tt.want {
			t.Errorf("colorSpaceName(%v) = %q, want %q", tt.obj, got, tt.want)
		}
	}
}

type resolverFunc func(core.Object) (core.Object, error)

func (f resolverFunc) Resolve(obj core.Object) (core.Object, error) { return f(obj) }

func BenchmarkPixelImageToPNG(b *testing.B) {
	img := pixelImage{Width: 256, Height: 256, ColorSpace: "DeviceGray", BitsPerComponent: 8, Data: make([]byte, 256*256)}
	for i := 0; i < b.N; i++ {
		if _, err := img.ToPNG(); err != nil {
			b.Fatal(err)
		}
	}
}
