package runware

import (
	"math"
	"strings"
)

const (
	minSide     = 128
	maxSide     = 2048
	sideStep    = 64
	defaultSide = 1024
)

type size struct{ w, h int }

// Sizes accepted by the FLUX Kontext models; anything else is rejected upstream.
var kontextSizes = []size{
	{1568, 672}, {1392, 752}, {1248, 832}, {1184, 880}, {1024, 1024},
	{880, 1184}, {832, 1248}, {752, 1392}, {672, 1568},
}

type quirk struct {
	match      string
	sizes      []size
	noStrength bool
	maxPixels  int
}

var quirks = []quirk{
	{match: "bfl:3@", sizes: kontextSizes},
	{match: "bfl:4@", sizes: kontextSizes},
	{match: "google:4@", noStrength: true},
	{match: "openai:1@", noStrength: true, maxPixels: 1536 * 1024},
}

func lookupQuirk(model string) quirk {
	id := strings.ToLower(model)
	for _, q := range quirks {
		if strings.Contains(id, q.match) {
			return q
		}
	}
	return quirk{}
}

// dimensions maps requested dimensions onto what the model family accepts.
func (q quirk) dimensions(width, height int) (int, int) {
	if width <= 0 {
		width = defaultSide
	}
	if height <= 0 {
		height = defaultSide
	}
	switch {
	case len(q.sizes) > 0:
		s := nearestAspect(q.sizes, width, height)
		return s.w, s.h
	case q.maxPixels > 0:
		return capPixels(width, height, q.maxPixels)
	default:
		return snap(width), snap(height)
	}
}

func snap(v int) int {
	v = int(math.Round(float64(v)/sideStep)) * sideStep
	return min(max(v, minSide), maxSide)
}

func nearestAspect(sizes []size, width, height int) size {
	want := math.Log(float64(width) / float64(height))
	best := sizes[0]
	bestDist := math.Inf(1)
	for _, s := range sizes {
		d := math.Abs(math.Log(float64(s.w)/float64(s.h)) - want)
		if d < bestDist {
			best, bestDist = s, d
		}
	}
	return best
}

// capPixels shrinks the image to fit maxPixels while keeping its aspect ratio. Sides
// stay multiples of 64 but are not bound by the per-axis limit.
func capPixels(width, height, maxPixels int) (int, int) {
	if width*height > maxPixels {
		scale := math.Sqrt(float64(maxPixels) / float64(width*height))
		width = int(float64(width) * scale)
		height = int(float64(height) * scale)
	}
	floor := func(v int) int { return max(v/sideStep*sideStep, sideStep) }
	return floor(width), floor(height)
}
