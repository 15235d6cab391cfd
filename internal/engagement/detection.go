package engagement

import (
	"fmt"
	"math"
)

// Box is an axis-aligned bounding box in frame pixel coordinates.
// X2/Y2 are exclusive of X1/Y1; a box with non-positive width or height
// has zero area and fails validation.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the box width (may be negative for malformed boxes).
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height (may be negative for malformed boxes).
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area, or 0 for malformed boxes.
func (b Box) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Centroid returns the box centre point.
func (b Box) Centroid() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// IoU computes intersection-over-union with another box. Returns 0 when the
// boxes do not overlap or either is degenerate.
func (b Box) IoU(other Box) float64 {
	areaA, areaB := b.Area(), other.Area()
	if areaA == 0 || areaB == 0 {
		return 0
	}

	ix1 := math.Max(b.X1, other.X1)
	iy1 := math.Max(b.Y1, other.Y1)
	ix2 := math.Min(b.X2, other.X2)
	iy2 := math.Min(b.Y2, other.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}

	inter := (ix2 - ix1) * (iy2 - iy1)
	return inter / (areaA + areaB - inter)
}

// CentroidDistance returns the Euclidean distance between box centres.
func (b Box) CentroidDistance(other Box) float64 {
	ax, ay := b.Centroid()
	bx, by := other.Centroid()
	dx, dy := ax-bx, ay-by
	return math.Sqrt(dx*dx + dy*dy)
}

// Detection is one labelled, localised observation in a single frame.
// Immutable once produced by the detector adapter.
type Detection struct {
	Box            Box      `json:"box"`
	Activity       Activity `json:"activity"`
	Confidence     float64  `json:"confidence"`
	FrameIndex     int      `json:"frame"`
	TimestampNanos int64    `json:"timestamp_nanos"`
}

// Validate checks the detection against the ingestion contract. A failure is
// always an *InvalidDetectionError wrapping ErrInvalidDetection; the caller
// drops the detection, logs it, and continues with the rest of the frame.
func (d Detection) Validate() error {
	if d.Box.Area() <= 0 {
		return &InvalidDetectionError{Detection: d, Reason: "box has non-positive area"}
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return &InvalidDetectionError{Detection: d, Reason: fmt.Sprintf("confidence %v outside [0,1]", d.Confidence)}
	}
	if _, ok := ParseActivity(string(d.Activity)); !ok {
		return &InvalidDetectionError{Detection: d, Reason: fmt.Sprintf("unknown activity label %q", d.Activity)}
	}
	return nil
}
