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

// Package mosaic assembles per-tile rasters into one city-wide raster
// per (product, year) through the external raster engine.
package mosaic

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/cityraster"
)

// CityMosaic identifies one assembled city raster.
type CityMosaic struct {
	Product cityraster.Product
	Year    int

	// Path is the standardized mosaic (canonical nodata sentinel).
	Path string

	// FilledPath is the gap-filled variant; empty unless filling ran.
	// Filling never mutates the standardized mosaic at Path.
	FilledPath string

	SRS    string
	NoData float64
}

// StandardizedPath returns the file name of the standardized mosaic for
// (product, year) within dir.
func StandardizedPath(dir string, product cityraster.Product, year int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d_mosaic_nodata.tif", product, year))
}

// FilledPath returns the file name of the gap-filled mosaic for
// (product, year) within dir.
func FilledPath(dir string, product cityraster.Product, year int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d_mosaic_filled.tif", product, year))
}

// Assembler assembles city mosaics. Assembly for a (product, year) is a
// fan-in barrier: it must only be started once every contributing tile
// job has finished or been explicitly excluded.
type Assembler struct {
	// Engine is the external raster engine.
	Engine cityraster.Engine

	// TileBase is the directory holding <year>/tiles_<product>
	// subdirectories of per-tile rasters.
	TileBase string

	// OutputDir receives the virtual indexes, file lists, and mosaics.
	OutputDir string

	// SRS is the authoritative coordinate reference stamped onto tile
	// rasters that carry none.
	SRS string

	// NoData is the canonical nodata sentinel for the whole mosaic.
	NoData float64

	// Fill enables the optional gap-fill stage.
	Fill bool

	// FillMaxDistance bounds the gap-fill interpolation search distance
	// in pixels, and FillSmoothIterations the smoothing passes.
	FillMaxDistance      int
	FillSmoothIterations int
}

// TilePaths lists the tile rasters contributing to (product, year),
// sorted by path. A missing tile directory yields os.ErrNotExist so the
// multi-year driver can skip it.
func (a *Assembler) TilePaths(product cityraster.Product, year int) ([]string, error) {
	dir := filepath.Join(a.TileBase, strconv.Itoa(year), product.TileDir())
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	tiles, err := filepath.Glob(filepath.Join(dir, "*.tif"))
	if err != nil {
		return nil, fmt.Errorf("mosaic: listing tile rasters in %s: %v", dir, err)
	}
	sort.Strings(tiles)
	return tiles, nil
}

// Assemble runs the mosaic stages over the given tile rasters: stamp a
// coordinate reference onto tiles that carry none, build a virtual
// index through an indirection file, materialize it into one compressed
// tiled raster, rewrite all tile-level nodata values to the canonical
// sentinel, and optionally fill gaps. Each stage consumes the previous
// stage's output and any stage failure is fatal.
func (a *Assembler) Assemble(ctx context.Context, product cityraster.Product, year int, tiles []string) (*CityMosaic, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("mosaic: no tile rasters for %s %d", product, year)
	}
	if err := os.MkdirAll(a.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("mosaic: creating output directory: %v", err)
	}
	log := logrus.WithFields(logrus.Fields{
		"product": product,
		"year":    year,
		"tiles":   len(tiles),
	})

	log.Info("normalizing tile projections")
	for _, tile := range tiles {
		if err := a.ensureSRS(ctx, tile); err != nil {
			return nil, err
		}
	}

	// The engine reads the tile list from an indirection file rather
	// than one argument per tile; tile counts in the thousands exceed
	// process argument-length limits.
	prefix := fmt.Sprintf("%s_%d", product, year)
	fileList := filepath.Join(a.OutputDir, prefix+"_tiles.txt")
	if err := ioutil.WriteFile(fileList, []byte(strings.Join(tiles, "\n")), 0644); err != nil {
		return nil, fmt.Errorf("mosaic: writing tile list %s: %v", fileList, err)
	}

	log.Info("building virtual mosaic index")
	vrt := filepath.Join(a.OutputDir, prefix+".vrt")
	if _, err := a.Engine.Run(ctx, nil, "gdalbuildvrt", "-input_file_list", fileList, vrt); err != nil {
		return nil, err
	}

	log.Info("materializing mosaic")
	raw := filepath.Join(a.OutputDir, prefix+"_mosaic.tif")
	if _, err := a.Engine.Run(ctx, nil, "gdal_translate", vrt, raw,
		"-co", "COMPRESS=LZW", "-co", "BIGTIFF=YES", "-co", "TILED=YES"); err != nil {
		return nil, err
	}

	log.Info("standardizing nodata")
	std := StandardizedPath(a.OutputDir, product, year)
	if _, err := a.Engine.Run(ctx, nil, "gdalwarp",
		"-dstnodata", strconv.FormatFloat(a.NoData, 'f', -1, 64),
		"-r", "near", raw, std); err != nil {
		return nil, err
	}

	m := &CityMosaic{
		Product: product,
		Year:    year,
		Path:    std,
		SRS:     a.SRS,
		NoData:  a.NoData,
	}
	if a.Fill {
		log.Info("filling nodata gaps")
		filled := FilledPath(a.OutputDir, product, year)
		if _, err := a.Engine.Run(ctx, nil, "gdal_fillnodata.py",
			"-md", strconv.Itoa(a.FillMaxDistance),
			"-si", strconv.Itoa(a.FillSmoothIterations),
			std, filled); err != nil {
			return nil, err
		}
		m.FilledPath = filled
	}
	return m, nil
}

// AssembleAll assembles mosaics for every (product, year) combination,
// skipping combinations whose tile directory is absent or empty. A
// failure during assembly of an existing combination is fatal.
func (a *Assembler) AssembleAll(ctx context.Context, products []cityraster.Product, years []int) ([]*CityMosaic, error) {
	var mosaics []*CityMosaic
	for _, year := range years {
		for _, product := range products {
			tiles, err := a.TilePaths(product, year)
			if os.IsNotExist(err) {
				logrus.WithFields(logrus.Fields{
					"product": product,
					"year":    year,
				}).Warn("no tile directory; skipping")
				continue
			}
			if err != nil {
				return mosaics, err
			}
			if len(tiles) == 0 {
				logrus.WithFields(logrus.Fields{
					"product": product,
					"year":    year,
				}).Warn("no tile rasters; skipping")
				continue
			}
			m, err := a.Assemble(ctx, product, year, tiles)
			if err != nil {
				return mosaics, err
			}
			mosaics = append(mosaics, m)
		}
	}
	return mosaics, nil
}

// srsMetadata mirrors the coordinate-system part of the raster engine's
// JSON metadata dump.
type srsMetadata struct {
	CoordinateSystem struct {
		WKT string `json:"wkt"`
	} `json:"coordinateSystem"`
}

// ensureSRS stamps the authoritative coordinate reference onto a tile
// raster that carries no coordinate-system metadata; tiles that already
// carry one pass through unchanged.
func (a *Assembler) ensureSRS(ctx context.Context, tile string) error {
	out, err := a.Engine.Run(ctx, nil, "gdalinfo", "-json", tile)
	if err != nil {
		return err
	}
	var md srsMetadata
	if err := json.Unmarshal(out, &md); err != nil {
		return fmt.Errorf("mosaic: parsing raster metadata for %s: %v", tile, err)
	}
	if strings.TrimSpace(md.CoordinateSystem.WKT) != "" {
		return nil
	}
	logrus.WithField("tile", tile).Info("stamping coordinate reference")
	_, err = a.Engine.Run(ctx, nil, "gdal_edit.py", "-a_srs", a.SRS, tile)
	return err
}
