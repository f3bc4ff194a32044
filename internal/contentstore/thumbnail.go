package contentstore

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
)

// thumbnailMaxDim is the bounding box of a derived placeholder.
const thumbnailMaxDim = 48

// Thumbnail derives a low-resolution placeholder from an embedded photo
// payload: the image scaled into a 48px box and re-encoded as a JPEG
// data URI. Undecodable payloads yield an empty string; a missing
// placeholder is not an error.
func Thumbnail(data []byte) string {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ""
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return ""
	}
	if w > h {
		h = h * thumbnailMaxDim / w
		w = thumbnailMaxDim
	} else {
		w = w * thumbnailMaxDim / h
		h = thumbnailMaxDim
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 60}); err != nil {
		return ""
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}
