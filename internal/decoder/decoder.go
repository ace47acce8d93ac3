// Package decoder turns raw detector rows into a de-duplicated list of detections.
//
// Decode is pure: it holds no state and may be called from any goroutine.
package decoder

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrScoreThreshold = errors.New("score threshold must be within [0, 1]")
	ErrIoUThreshold   = errors.New("iou threshold must be within [0, 1]")
	ErrScale          = errors.New("scale must be a positive number")
	ErrImageSize      = errors.New("image size must be positive")
	ErrRowWidth       = errors.New("row must hold a box and at least one class score")
)

// candidate is a row that survived the score cutoff.
type candidate struct {
	classID int
	score   float32
	rect    Rect
}

// ValidateThresholds checks that both thresholds lie in [0, 1].
func ValidateThresholds(score, iou float64) error {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return fmt.Errorf("%w: got %v", ErrScoreThreshold, score)
	}
	if math.IsNaN(iou) || iou < 0 || iou > 1 {
		return fmt.Errorf("%w: got %v", ErrIoUThreshold, iou)
	}
	return nil
}

func (p Params) validate() error {
	if err := ValidateThresholds(p.ScoreThreshold, p.IoUThreshold); err != nil {
		return err
	}
	if math.IsNaN(p.Scale) || math.IsInf(p.Scale, 0) || p.Scale <= 0 {
		return fmt.Errorf("%w: got %v", ErrScale, p.Scale)
	}
	if p.ImageWidth <= 0 || p.ImageHeight <= 0 {
		return fmt.Errorf("%w: got %dx%d", ErrImageSize, p.ImageWidth, p.ImageHeight)
	}
	return nil
}

// Decode selects the best class of every row, drops rows scoring below the threshold,
// runs greedy class-agnostic non-maximum suppression and maps the kept boxes back to
// the original image. Detections are returned highest confidence first.
func Decode(rows []Row, p Params) ([]Detection, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	candidates := make([]candidate, 0, len(rows))
	for i, row := range rows {
		if row.NumClasses() < 1 {
			return nil, fmt.Errorf("%w: row %d has %d values", ErrRowWidth, i, len(row))
		}

		classID, score := bestClass(row)
		if math.IsNaN(float64(score)) || float64(score) < p.ScoreThreshold {
			continue
		}

		cx, cy := float64(row[0]), float64(row[1])
		w, h := float64(row[2]), float64(row[3])
		candidates = append(candidates, candidate{
			classID: classID,
			score:   score,
			rect:    Rect{Left: cx - w/2, Top: cy - h/2, Width: w, Height: h},
		})
	}

	kept := suppress(candidates, p.IoUThreshold)

	detections := make([]Detection, 0, len(kept))
	for _, c := range kept {
		detections = append(detections, Detection{
			ClassID:    c.classID,
			Confidence: float64(c.score),
			Box:        scaleAndClip(c.rect, p.Scale, p.ImageWidth, p.ImageHeight),
		})
	}
	return detections, nil
}

// bestClass returns the argmax over the class scores; ties keep the lowest index.
// NaN scores never win. A row of only NaN scores reports class 0 with a NaN score.
func bestClass(row Row) (int, float32) {
	scores := row[4:]
	best := -1
	for k, score := range scores {
		if math.IsNaN(float64(score)) {
			continue
		}
		if best < 0 || score > scores[best] {
			best = k
		}
	}
	if best < 0 {
		return 0, scores[0]
	}
	return best, scores[best]
}

// suppress runs greedy NMS. Candidates are ordered by score, ties by row order.
func suppress(candidates []candidate, iouThreshold float64) []candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	suppressed := make([]bool, len(candidates))
	kept := make([]candidate, 0, len(candidates))
	for i := range candidates {
		if suppressed[i] {
			continue
		}
		kept = append(kept, candidates[i])
		for j := i + 1; j < len(candidates); j++ {
			if suppressed[j] {
				continue
			}
			// Disjoint boxes never suppress each other, even at a threshold of 0.
			if iou := IoU(candidates[i].rect, candidates[j].rect); iou > 0 && iou >= iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// IoU returns the intersection area of a and b divided by their union area.
// A zero union yields 0.
func IoU(a, b Rect) float64 {
	left := math.Max(a.Left, b.Left)
	top := math.Max(a.Top, b.Top)
	right := math.Min(a.Right(), b.Right())
	bottom := math.Min(a.Bottom(), b.Bottom())

	intersection := math.Max(0, right-left) * math.Max(0, bottom-top)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func scaleAndClip(r Rect, scale float64, width, height int) Box {
	x1, x2 := r.Left*scale, r.Right()*scale
	y1, y2 := r.Top*scale, r.Bottom()*scale
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}

	maxX, maxY := float64(width-1), float64(height-1)
	return Box{
		X1: clamp(x1, 0, maxX),
		Y1: clamp(y1, 0, maxY),
		X2: clamp(x2, 0, maxX),
		Y2: clamp(y2, 0, maxY),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
