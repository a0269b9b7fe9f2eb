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

	"github.com/ctessum/geom"
)

// RasterGrid describes a resolution-aligned raster grid. The origin is
// always a multiple of the resolution, so grids computed for adjacent
// tiles share one global pixel lattice.
type RasterGrid struct {
	OriginX, OriginY float64
	Width, Height    int
	Resolution       float64
	NoData           float64
}

// SnapOrigin returns the largest multiple of resolution that does not
// exceed v.
func SnapOrigin(v, resolution float64) float64 {
	return math.Floor(v/resolution) * resolution
}

// ComputeGrid derives the raster grid for a tile footprint. The origin
// is floor-snapped to the resolution lattice and the width and height
// are the smallest pixel counts such that the grid covers bounds; input
// data is never cropped.
//
// A nil, empty, or degenerate (zero width or height) bounds yields an
// InvalidGeometryError; callers must skip such tiles rather than abort
// the whole run.
func ComputeGrid(bounds *geom.Bounds, resolution float64) (RasterGrid, error) {
	if resolution <= 0 || math.IsNaN(resolution) {
		return RasterGrid{}, &ConfigurationError{
			Reason: "raster resolution must be positive"}
	}
	if bounds == nil || bounds.Empty() {
		return RasterGrid{}, &InvalidGeometryError{Reason: "null or empty footprint bounds"}
	}
	if bounds.Max.X <= bounds.Min.X || bounds.Max.Y <= bounds.Min.Y {
		return RasterGrid{}, &InvalidGeometryError{Reason: "degenerate footprint bounds"}
	}
	g := RasterGrid{
		OriginX:    SnapOrigin(bounds.Min.X, resolution),
		OriginY:    SnapOrigin(bounds.Min.Y, resolution),
		Resolution: resolution,
		NoData:     DefaultNoData,
	}
	g.Width = int(math.Ceil((bounds.Max.X - g.OriginX) / resolution))
	g.Height = int(math.Ceil((bounds.Max.Y - g.OriginY) / resolution))
	return g, nil
}

// Bounds returns the ground extent covered by the grid.
func (g RasterGrid) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: g.OriginX, Y: g.OriginY},
		Max: geom.Point{
			X: g.OriginX + float64(g.Width)*g.Resolution,
			Y: g.OriginY + float64(g.Height)*g.Resolution,
		},
	}
}
