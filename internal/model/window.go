package model

import "time"

// Window is a half-open time interval [Start, Stop).
type Window struct {
	Start time.Time `json:"start"`
	Stop  time.Time `json:"stop"`
}

// Valid reports whether the window ends strictly after it starts.
func (w Window) Valid() bool {
	return w.Stop.After(w.Start)
}

// Overlaps uses strict overlap: windows that only touch do not overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.Stop) && w.Stop.After(o.Start)
}
