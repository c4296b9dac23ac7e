package opencv

import (
	"fmt"
	"image"
	"image/color"

	gocv "gocv.io/x/gocv"

	"attendance-go/internal/core/processor"
	"attendance-go/internal/vision"
)

var (
	colorKnown   = color.RGBA{R: 0, G: 200, B: 0, A: 0}
	colorUnknown = color.RGBA{R: 0, G: 0, B: 220, A: 0}
	colorLabel   = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// Annotator draws recognition boxes and name labels onto frames and encodes
// frames as JPEG via OpenCV.
type Annotator struct{}

// NewAnnotator creates an annotator.
func NewAnnotator() *Annotator {
	return &Annotator{}
}

// Annotate returns a copy of the frame with a rectangle and label drawn for
// each recognition. Known faces get a green box with the name and confidence,
// unknown faces a red box.
func (a *Annotator) Annotate(frame vision.Frame, results []processor.Recognition) (vision.Frame, error) {
	mat, err := frameToMat(frame)
	if err != nil {
		return vision.Frame{}, err
	}
	defer mat.Close()

	for _, r := range results {
		rect := image.Rect(r.Box.Left, r.Box.Top, r.Box.Right, r.Box.Bottom)
		boxColor := colorUnknown
		label := "Unknown"
		if r.Known {
			boxColor = colorKnown
			label = fmt.Sprintf("%s (%.2f)", r.Name, r.Confidence)
		}
		gocv.Rectangle(&mat, rect, boxColor, 2)

		// Filled bar under the box as label background
		labelRect := image.Rect(r.Box.Left, r.Box.Bottom, r.Box.Right, r.Box.Bottom+22)
		gocv.Rectangle(&mat, labelRect, boxColor, -1)
		gocv.PutText(&mat, label,
			image.Point{X: r.Box.Left + 4, Y: r.Box.Bottom + 16},
			gocv.FontHersheyDuplex, 0.5, colorLabel, 1)
	}

	out, ok := matToFrame(mat)
	if !ok {
		return vision.Frame{}, fmt.Errorf("annotated frame is invalid")
	}
	return out, nil
}

// EncodeJPEG encodes a BGR frame as JPEG.
func (a *Annotator) EncodeJPEG(frame vision.Frame) ([]byte, error) {
	mat, err := frameToMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, fmt.Errorf("JPEG encoding failed: %w", err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return data, nil
}

func frameToMat(frame vision.Frame) (gocv.Mat, error) {
	if !frame.Valid() {
		return gocv.Mat{}, fmt.Errorf("invalid frame: %dx%d, %d channels", frame.Width, frame.Height, frame.Channels)
	}
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("could not build matrix from frame: %w", err)
	}
	return mat, nil
}
