package tracker

import "github.com/bryan-buckman/pricewatch/internal/model"

// DefaultDropThresholdPercent is the smallest relative drop that alerts.
const DefaultDropThresholdPercent = 10.0

// dropRelTolerance absorbs float rounding at the threshold boundary, relative
// to the threshold. Real prices never differ at this scale.
const dropRelTolerance = 1e-12

// Detector decides whether a price observation warrants a notification.
type Detector struct {
	ThresholdPercent float64
}

func (d Detector) threshold() float64 {
	if d.ThresholdPercent <= 0 {
		return DefaultDropThresholdPercent
	}
	return d.ThresholdPercent
}

// DropPercent returns the relative drop from previous to current, in percent.
func DropPercent(previous, current float64) float64 {
	return 100 * (previous - current) / previous
}

// ShouldNotify reports whether a drop from previous to current on item should
// alert. Comparisons across a name change are suppressed since the page may
// now describe a different variant.
func (d Detector) ShouldNotify(item model.Item, previous, current *float64, to model.Status) bool {
	if previous == nil || *previous <= 0 || current == nil {
		return false
	}
	if item.Name == "" || item.CurrentPrice == nil || item.URL == "" {
		return false
	}
	if to == model.StatusChanged || to == model.StatusError {
		return false
	}
	threshold := d.threshold()
	return DropPercent(*previous, *current) >= threshold-threshold*dropRelTolerance
}
