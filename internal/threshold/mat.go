package threshold

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// grayToMat converts a grayscale Go image to a single-channel OpenCV Mat.
func grayToMat(img *image.Gray) (gocv.Mat, error) {
	if img == nil {
		return gocv.Mat{}, fmt.Errorf("nil image")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return gocv.Mat{}, fmt.Errorf("empty image")
	}

	// Rows must be packed tightly for NewMatFromBytes.
	pix := img.Pix
	if img.Stride != w {
		pix = make([]byte, w*h)
		for y := 0; y < h; y++ {
			copy(pix[y*w:(y+1)*w], img.Pix[y*img.Stride:y*img.Stride+w])
		}
	}

	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, pix)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("convert image to mat: %w", err)
	}
	return mat, nil
}

// matToGray converts a single-channel 8-bit Mat back to a Go image.
func matToGray(mat gocv.Mat) (*image.Gray, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("empty mat")
	}
	if mat.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("unexpected mat type %v, want single-channel 8-bit", mat.Type())
	}

	h, w := mat.Rows(), mat.Cols()
	data, err := mat.DataPtrUint8()
	if err != nil {
		// Non-continuous mats fall back to a copy.
		data = mat.ToBytes()
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	copy(img.Pix, data)
	return img, nil
}
