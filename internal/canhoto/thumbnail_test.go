package canhoto

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func pngBytes(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("ImageThumbnailer", func() {
	var thumbnailer *ImageThumbnailer

	BeforeEach(func() {
		thumbnailer = NewImageThumbnailer()
	})

	decodeThumb := func(b64 string) image.Image {
		data, err := base64.StdEncoding.DecodeString(b64)
		Expect(err).NotTo(HaveOccurred())
		img, err := jpeg.Decode(bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		return img
	}

	When("the source is wider than the maximum", func() {
		It("scales it down preserving aspect ratio", func() {
			thumb, err := thumbnailer.Thumbnail(pngBytes(1200, 800), "image/png")
			Expect(err).NotTo(HaveOccurred())

			img := decodeThumb(thumb)
			Expect(img.Bounds().Dx()).To(Equal(600))
			Expect(img.Bounds().Dy()).To(Equal(400))
		})
	})

	When("the source already fits", func() {
		It("does not upscale", func() {
			thumb, err := thumbnailer.Thumbnail(pngBytes(300, 200), "image/png")
			Expect(err).NotTo(HaveOccurred())

			img := decodeThumb(thumb)
			Expect(img.Bounds().Dx()).To(Equal(300))
			Expect(img.Bounds().Dy()).To(Equal(200))
		})
	})

	When("the input is not an image", func() {
		It("returns an error", func() {
			_, err := thumbnailer.Thumbnail([]byte("definitely not an image"), "image/jpeg")
			Expect(err).To(HaveOccurred())
		})
	})
})
