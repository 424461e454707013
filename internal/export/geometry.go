package export

import "image"

// Inflate grows a box by pad pixels on every side. Detector boxes sit tight
// on the animal; padding keeps hooves and tails inside the crop.
func Inflate(box image.Rectangle, pad int) image.Rectangle {
	if pad <= 0 {
		return box
	}
	return image.Rect(box.Min.X-pad, box.Min.Y-pad, box.Max.X+pad, box.Max.Y+pad)
}

// Clamp clips a box to the given bounds. A box entirely outside bounds
// clamps to the empty rectangle.
func Clamp(box, bounds image.Rectangle) image.Rectangle {
	return box.Intersect(bounds)
}

// TouchesBorder reports whether the box comes within margin pixels of any
// edge of bounds. Boxes on the border usually mean a partially visible
// animal entering or leaving the frame.
func TouchesBorder(box, bounds image.Rectangle, margin int) bool {
	return box.Min.X <= bounds.Min.X+margin ||
		box.Min.Y <= bounds.Min.Y+margin ||
		box.Max.X >= bounds.Max.X-margin ||
		box.Max.Y >= bounds.Max.Y-margin
}

// FitWithin scales (w, h) down to fit inside (maxW, maxH) preserving aspect
// ratio. Dimensions already inside the target are returned unchanged, so
// small crops are never zoomed.
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if w <= maxW && h <= maxH {
		return w, h
	}

	scale := float64(maxW) / float64(w)
	if s := float64(maxH) / float64(h); s < scale {
		scale = s
	}

	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}
	return newW, newH
}
