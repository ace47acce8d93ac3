package decoder

import (
	"errors"
	"fmt"
)

// ErrTensorShape is returned when a flat tensor does not match the declared shape.
var ErrTensorShape = errors.New("tensor does not match shape")

// RowsFromTensor converts a channel-major [1, attrs, anchors] detector output into rows.
// YOLOv8-style heads emit attrs = 4 + K values per anchor laid out one channel after another.
func RowsFromTensor(data []float32, attrs, anchors int) ([]Row, error) {
	if attrs < 5 || anchors < 0 {
		return nil, fmt.Errorf("%w: attrs=%d anchors=%d", ErrTensorShape, attrs, anchors)
	}
	if len(data) != attrs*anchors {
		return nil, fmt.Errorf("%w: got %d values, want %d*%d", ErrTensorShape, len(data), attrs, anchors)
	}

	// One backing array keeps the allocation count independent of the anchor count.
	backing := make([]float32, attrs*anchors)
	rows := make([]Row, anchors)
	for i := 0; i < anchors; i++ {
		row := backing[i*attrs : (i+1)*attrs : (i+1)*attrs]
		for a := 0; a < attrs; a++ {
			row[a] = data[a*anchors+i]
		}
		rows[i] = row
	}
	return rows, nil
}

// LetterboxScale returns the factor mapping a square inputSize detector input back to
// a width x height image that was zero padded to a square before resizing.
func LetterboxScale(width, height, inputSize int) float64 {
	if inputSize <= 0 {
		return 0
	}
	return float64(max(width, height)) / float64(inputSize)
}
