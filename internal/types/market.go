package types

import "time"

// Bar is one time-sliced market observation. Bid and Ask are optional: a
// value of zero means "not quoted" and fills fall back to Close.
type Bar struct {
	Time   time.Time `csv:"time" yaml:"time"`
	Symbol string    `csv:"symbol" yaml:"symbol"`
	Open   float64   `csv:"open" yaml:"open"`
	High   float64   `csv:"high" yaml:"high"`
	Low    float64   `csv:"low" yaml:"low"`
	Close  float64   `csv:"close" yaml:"close"`
	Bid    float64   `csv:"bid" yaml:"bid"`
	Ask    float64   `csv:"ask" yaml:"ask"`
	Volume float64   `csv:"volume" yaml:"volume"`
}

// ReferencePrice returns the close-like price used for auto-exit scans and
// account valuation.
func (b Bar) ReferencePrice() float64 {
	return b.Close
}
