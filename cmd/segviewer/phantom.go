package main

import (
	"math"

	"segviewer/internal/models"
)

// phantom builds a synthetic scan for sessions without input data: a bright
// ellipsoid on a dark background whose size pulses across phases.
func phantom(phases, n, depth int) (*models.Volume, error) {
	shape := []int{phases, n, n, depth}
	data := make([]float64, phases*n*n*depth)

	c := float64(n-1) / 2
	cz := float64(depth-1) / 2
	i := 0
	for p := 0; p < phases; p++ {
		r := 0.35 + 0.05*math.Sin(2*math.Pi*float64(p)/float64(max(phases, 1)))
		for x := 0; x < n; x++ {
			for y := 0; y < n; y++ {
				for z := 0; z < depth; z++ {
					dx := (float64(x) - c) / float64(n)
					dy := (float64(y) - c) / float64(n)
					dz := (float64(z) - cz) / float64(max(depth, 1))
					d := math.Sqrt(dx*dx + dy*dy + dz*dz)
					// Smooth edge plus a gradient so orientation is visible
					data[i] = 800/(1+math.Exp((d-r)*40)) + 200*float64(x)/float64(n)
					i++
				}
			}
		}
	}
	return models.FromFloat64(shape, data, 0, 1000)
}
