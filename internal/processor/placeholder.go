package processor

import (
	"bytes"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
)

const placeholderSize = 512

var (
	placeholderOnce sync.Once
	placeholderPNG  []byte
	placeholderErr  error
)

// Placeholder returns the bundled default cover: a dark square with a
// lighter inset, encoded as PNG. It is rendered once per process.
func Placeholder() ([]byte, error) {
	placeholderOnce.Do(func() {
		bg := imaging.New(placeholderSize, placeholderSize, color.NRGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff})
		inset := imaging.New(placeholderSize/2, placeholderSize/2, color.NRGBA{R: 0x48, G: 0x48, B: 0x48, A: 0xff})
		img := imaging.PasteCenter(bg, inset)

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			placeholderErr = err
			return
		}
		placeholderPNG = buf.Bytes()
	})
	return placeholderPNG, placeholderErr
}
