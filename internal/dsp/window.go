package dsp

import (
	"fmt"

	"github.com/mjibson/go-dsp/window"
)

const (
	// WindowHann is the default analysis window.
	WindowHann        Window = "hann"
	WindowHamming     Window = "hamming"
	WindowBlackman    Window = "blackman"
	WindowBartlett    Window = "bartlett"
	WindowFlatTop     Window = "flat-top"
	WindowRectangular Window = "rectangular"
)

// Window names an analysis window function.
type Window string

func (w Window) String() string {
	return string(w)
}

// ParseWindow validates a window name from configuration.
func ParseWindow(s string) (Window, error) {
	switch w := Window(s); w {
	case WindowHann, WindowHamming, WindowBlackman, WindowBartlett, WindowFlatTop, WindowRectangular:
		return w, nil
	default:
		return "", fmt.Errorf("unknown window function %q", s)
	}
}

// Coefficients returns the window's coefficients for length n.
func (w Window) Coefficients(n int) []float64 {
	switch w {
	case WindowHamming:
		return window.Hamming(n)
	case WindowBlackman:
		return window.Blackman(n)
	case WindowBartlett:
		return window.Bartlett(n)
	case WindowFlatTop:
		return window.FlatTop(n)
	case WindowRectangular:
		return window.Rectangular(n)
	default:
		return window.Hann(n)
	}
}
