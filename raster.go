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
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
)

// Band is a fully loaded single-band raster: pixel values in row-major
// order (north to south for the usual negative Dy) plus the affine
// georeferencing needed to place each pixel on the ground.
type Band struct {
	// Data holds the pixel values with shape [rows, columns].
	Data *sparse.DenseArray

	// OriginX and OriginY locate the outer corner of the first pixel.
	OriginX, OriginY float64

	// Dx and Dy are the pixel sizes in ground units. Dy is negative
	// for north-up rasters.
	Dx, Dy float64

	// NoData is the band's declared nodata sentinel.
	NoData float64
}

// Rows returns the number of pixel rows in the band.
func (b *Band) Rows() int { return b.Data.Shape[0] }

// Cols returns the number of pixel columns in the band.
func (b *Band) Cols() int { return b.Data.Shape[1] }

// PixelArea returns the ground area covered by one pixel, derived from
// the declared resolution only, independent of raster content.
func (b *Band) PixelArea() float64 {
	return math.Abs(b.Dx * b.Dy)
}

// CellCenter returns the ground coordinate of the center of the pixel
// at the given row and column.
func (b *Band) CellCenter(row, col int) geom.Point {
	return geom.Point{
		X: b.OriginX + (float64(col)+0.5)*b.Dx,
		Y: b.OriginY + (float64(row)+0.5)*b.Dy,
	}
}

// PixelRange returns half-open row and column ranges covering every
// pixel whose center may fall within bounds, clamped to the band extent.
func (b *Band) PixelRange(bounds *geom.Bounds) (r0, r1, c0, c1 int) {
	ra := (bounds.Min.Y - b.OriginY) / b.Dy
	rb := (bounds.Max.Y - b.OriginY) / b.Dy
	if ra > rb {
		ra, rb = rb, ra
	}
	ca := (bounds.Min.X - b.OriginX) / b.Dx
	cb := (bounds.Max.X - b.OriginX) / b.Dx
	if ca > cb {
		ca, cb = cb, ca
	}
	r0, r1 = int(math.Floor(ra)), int(math.Ceil(rb))
	c0, c1 = int(math.Floor(ca)), int(math.Ceil(cb))
	if r0 < 0 {
		r0 = 0
	}
	if c0 < 0 {
		c0 = 0
	}
	if r1 > b.Rows() {
		r1 = b.Rows()
	}
	if c1 > b.Cols() {
		c1 = b.Cols()
	}
	return r0, r1, c0, c1
}

// MaskBelow marks as invalid (NaN) every pixel whose value is at or
// below threshold and every pixel equal to the band's nodata value.
// The resulting mask applies uniformly to every polygon aggregated over
// the band.
func (b *Band) MaskBelow(threshold float64) {
	for i, v := range b.Data.Elements {
		if v <= threshold || v == b.NoData {
			b.Data.Elements[i] = math.NaN()
		}
	}
}

// bandMetadata mirrors the parts of the raster engine's JSON metadata
// dump that the loader needs.
type bandMetadata struct {
	Size         []int     `json:"size"`
	GeoTransform []float64 `json:"geoTransform"`
	Bands        []struct {
		NoDataValue *float64 `json:"noDataValue"`
	} `json:"bands"`
	CoordinateSystem struct {
		WKT string `json:"wkt"`
	} `json:"coordinateSystem"`
}

// LoadBand loads the first band of the raster at path fully into
// memory. Metadata comes from the raster engine's JSON dump; pixel data
// is exported by the engine to a raw float32 file in a temporary
// directory and decoded from there, because the engine owns the raster
// encoding on disk.
func LoadBand(ctx context.Context, e Engine, path string) (*Band, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &InputNotFoundError{Path: path}
	}
	out, err := e.Run(ctx, nil, "gdalinfo", "-json", path)
	if err != nil {
		return nil, err
	}
	var md bandMetadata
	if err := json.Unmarshal(out, &md); err != nil {
		return nil, fmt.Errorf("cityraster: parsing raster metadata for %s: %v", path, err)
	}
	if len(md.Size) != 2 || len(md.GeoTransform) != 6 || len(md.Bands) < 1 {
		return nil, fmt.Errorf("cityraster: incomplete raster metadata for %s", path)
	}
	cols, rows := md.Size[0], md.Size[1]

	dir, err := ioutil.TempDir("", "cityraster")
	if err != nil {
		return nil, fmt.Errorf("cityraster: creating raster export directory: %v", err)
	}
	defer os.RemoveAll(dir)
	raw := filepath.Join(dir, "band.bin")
	if _, err := e.Run(ctx, nil, "gdal_translate", "-q", "-of", "ENVI", "-ot", "Float32", path, raw); err != nil {
		return nil, err
	}
	buf, err := ioutil.ReadFile(raw)
	if err != nil {
		return nil, fmt.Errorf("cityraster: reading exported band for %s: %v", path, err)
	}
	if len(buf) < 4*rows*cols {
		return nil, fmt.Errorf("cityraster: exported band for %s holds %d bytes; need %d",
			path, len(buf), 4*rows*cols)
	}

	b := &Band{
		Data:    sparse.ZerosDense(rows, cols),
		OriginX: md.GeoTransform[0],
		Dx:      md.GeoTransform[1],
		OriginY: md.GeoTransform[3],
		Dy:      md.GeoTransform[5],
		NoData:  DefaultNoData,
	}
	if md.Bands[0].NoDataValue != nil {
		b.NoData = *md.Bands[0].NoDataValue
	}
	for i := range b.Data.Elements {
		b.Data.Elements[i] = float64(math.Float32frombits(
			binary.LittleEndian.Uint32(buf[4*i:])))
	}
	return b, nil
}
