/*
Copyright © 2024 the CityRaster authors.
This file is part of CityRaster.

CityRaster is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

CityRaster is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with CityRaster.  If not, see <http://www.gnu.org/licenses/>.
*/

package cityraster

import (
	"math"
	"testing"

	"github.com/ctessum/geom"
)

func TestSnapOrigin(t *testing.T) {
	tests := []struct {
		v, resolution, want float64
	}{
		{123.7, 1, 123},
		{123, 1, 123},
		{-0.3, 1, -1},
		{10.3, 0.5, 10},
		{10.6, 0.5, 10.5},
	}
	for _, test := range tests {
		if got := SnapOrigin(test.v, test.resolution); got != test.want {
			t.Errorf("SnapOrigin(%g, %g) = %g; want %g", test.v, test.resolution, got, test.want)
		}
	}
}

func TestComputeGrid(t *testing.T) {
	bounds := &geom.Bounds{
		Min: geom.Point{X: 123.7, Y: 456.2},
		Max: geom.Point{X: 223.7, Y: 556.2},
	}
	g, err := ComputeGrid(bounds, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := RasterGrid{
		OriginX:    123,
		OriginY:    456,
		Width:      101,
		Height:     101,
		Resolution: 1,
		NoData:     DefaultNoData,
	}
	if g != want {
		t.Errorf("got %+v; want %+v", g, want)
	}

	// The grid must cover the footprint entirely.
	gb := g.Bounds()
	if gb.Min.X > bounds.Min.X || gb.Min.Y > bounds.Min.Y ||
		gb.Max.X < bounds.Max.X || gb.Max.Y < bounds.Max.Y {
		t.Errorf("grid extent %+v does not cover footprint %+v", gb, bounds)
	}
}

// Grids computed for adjacent tiles must share one global pixel
// lattice, so pixel edges never straddle tile boundaries.
func TestComputeGrid_alignment(t *testing.T) {
	const resolution = 0.5
	a, err := ComputeGrid(&geom.Bounds{
		Min: geom.Point{X: 330000.3, Y: 7390000.8},
		Max: geom.Point{X: 331000.1, Y: 7391000.2},
	}, resolution)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ComputeGrid(&geom.Bounds{
		Min: geom.Point{X: 331000.1, Y: 7390000.8},
		Max: geom.Point{X: 332000.4, Y: 7391000.2},
	}, resolution)
	if err != nil {
		t.Fatal(err)
	}
	dx := (b.OriginX - a.OriginX) / resolution
	dy := (b.OriginY - a.OriginY) / resolution
	if dx != math.Trunc(dx) || dy != math.Trunc(dy) {
		t.Errorf("grid origins (%g, %g) and (%g, %g) are not on a shared lattice",
			a.OriginX, a.OriginY, b.OriginX, b.OriginY)
	}
}

func TestComputeGrid_errors(t *testing.T) {
	bounds := &geom.Bounds{
		Min: geom.Point{X: 0, Y: 0},
		Max: geom.Point{X: 1, Y: 1},
	}
	if _, err := ComputeGrid(bounds, 0); !IsConfiguration(err) {
		t.Errorf("zero resolution: got %v; want a configuration error", err)
	}
	if _, err := ComputeGrid(bounds, -1); !IsConfiguration(err) {
		t.Errorf("negative resolution: got %v; want a configuration error", err)
	}
	if _, err := ComputeGrid(nil, 1); !IsInvalidGeometry(err) {
		t.Errorf("nil bounds: got %v; want an invalid geometry error", err)
	}
	degenerate := &geom.Bounds{
		Min: geom.Point{X: 5, Y: 5},
		Max: geom.Point{X: 5, Y: 10},
	}
	if _, err := ComputeGrid(degenerate, 1); !IsInvalidGeometry(err) {
		t.Errorf("degenerate bounds: got %v; want an invalid geometry error", err)
	}
}
