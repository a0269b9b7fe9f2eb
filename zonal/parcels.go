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

package zonal

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"

	"github.com/spatialmodel/cityraster"
)

// ParcelSource describes how to read the cadastral parcel layer.
type ParcelSource struct {
	// Path is the parcel shapefile.
	Path string

	// IDColumns are the attribute columns concatenated to form the
	// parcel identifier (for example a district column followed by a
	// block column).
	IDColumns []string

	// PadWidth left-pads each identifier column value with zeros to
	// this width before concatenation. Zero disables padding.
	PadWidth int

	// Limit caps the number of parcels read, for test runs. Zero reads
	// everything.
	Limit int
}

// LoadParcels reads the parcel layer, assembling each parcel's
// identifier from the configured columns. It also returns the layer's
// projection definition (the sidecar .prj contents, empty if absent)
// for propagation to output files. Non-polygonal rows yield an error;
// degenerate polygons are kept here and excluded during aggregation,
// where they are counted.
func LoadParcels(src ParcelSource) ([]Parcel, string, error) {
	if len(src.IDColumns) == 0 {
		return nil, "", &cityraster.ConfigurationError{
			Reason: "no parcel identifier columns configured"}
	}
	if _, err := os.Stat(src.Path); err != nil {
		return nil, "", &cityraster.ConfigurationError{
			Reason: fmt.Sprintf("parcel layer %s: %v", src.Path, err)}
	}
	d, err := shp.NewDecoder(src.Path)
	if err != nil {
		return nil, "", fmt.Errorf("zonal: opening parcel layer %s: %v", src.Path, err)
	}
	defer d.Close()

	var parcels []Parcel
	for src.Limit <= 0 || len(parcels) < src.Limit {
		g, fields, more := d.DecodeRowFields(src.IDColumns...)
		if !more {
			break
		}
		parts := make([]string, len(src.IDColumns))
		for i, col := range src.IDColumns {
			v, ok := fields[col]
			if !ok {
				return nil, "", &cityraster.ConfigurationError{
					Reason: fmt.Sprintf("parcel layer %s has no identifier column %q", src.Path, col)}
			}
			parts[i] = zfill(strings.TrimSpace(v), src.PadWidth)
		}
		poly, _ := g.(geom.Polygonal)
		// A non-polygonal or missing geometry becomes a nil-geometry
		// parcel, counted and excluded by the aggregator.
		parcels = append(parcels, Parcel{ID: strings.Join(parts, ""), Geom: poly})
	}
	if err := d.Error(); err != nil {
		return nil, "", fmt.Errorf("zonal: reading parcel layer %s: %v", src.Path, err)
	}

	prj := ""
	prjFile := strings.TrimSuffix(src.Path, filepath.Ext(src.Path)) + ".prj"
	if b, err := ioutil.ReadFile(prjFile); err == nil {
		prj = string(b)
	}
	return parcels, prj, nil
}

// zfill left-pads s with zeros to width characters.
func zfill(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}
