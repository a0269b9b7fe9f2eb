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

// Package cityraster turns raw aerial LiDAR point-cloud surveys into
// city-scale elevation rasters and summarizes those rasters over
// cadastral parcels across multiple survey years.
//
// The package holds the core domain types: tile footprints, raster grid
// planning, the external processing engine contract, and fully loaded
// raster bands. Per-tile rasterization lives in package pointcloud,
// city-wide mosaic assembly in package mosaic, and per-parcel statistics
// in package zonal.
package cityraster

import "fmt"

// Version gives the version number of this version of CityRaster.
const Version = "0.1.0"

const (
	// DefaultNoData is the canonical nodata sentinel. It is constant
	// across all raster products and survey years.
	DefaultNoData = -9999.0

	// DefaultResolution is the raster cell edge length in the units of
	// the survey spatial projection (meters).
	DefaultResolution = 1.0
)

// Product identifies one of the raster products derived from a survey.
type Product string

const (
	// Surface is the per-pixel maximum elevation of the filtered
	// point returns.
	Surface Product = "surface"

	// HeightAboveGround is the per-pixel maximum height above the
	// estimated ground surface.
	HeightAboveGround Product = "hag"
)

// Products returns all raster products, in canonical order.
func Products() []Product {
	return []Product{Surface, HeightAboveGround}
}

// ParseProduct converts a raster-kind selector to a Product.
func ParseProduct(s string) (Product, error) {
	switch Product(s) {
	case Surface, HeightAboveGround:
		return Product(s), nil
	}
	return "", fmt.Errorf("cityraster: invalid raster product %q; valid products are %q and %q",
		s, Surface, HeightAboveGround)
}

func (p Product) String() string { return string(p) }

// Dimension returns the point-cloud dimension the product rasterizes.
func (p Product) Dimension() string {
	if p == HeightAboveGround {
		return "HeightAboveGround"
	}
	return "Z"
}

// TileDir returns the directory name holding the per-tile rasters for
// this product within a survey year's output directory.
func (p Product) TileDir() string {
	return "tiles_" + string(p)
}

// TileFileName returns the raster file name for one tile. The
// tile/product/year path triple guarantees at most one writer per
// output file by convention.
func (p Product) TileFileName(tileID string) string {
	return fmt.Sprintf("%s_tile_%s.tif", p, tileID)
}
