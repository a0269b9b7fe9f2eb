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

// Package pointcloud builds and executes the per-tile pipelines that
// turn raw point-cloud sources into aligned surface and
// height-above-ground rasters.
package pointcloud

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spatialmodel/cityraster"
)

// tileCreationOpts are the raster creation options shared by both tile
// writers.
const tileCreationOpts = "COMPRESS=ZSTD,PREDICTOR=3,BIGTIFF=YES,TILED=YES"

// Stage is a single stage of a point-cloud engine pipeline.
type Stage map[string]interface{}

// PipelineSpec is the ordered stage list submitted to the point-cloud
// engine. It is built once per tile and never persisted.
type PipelineSpec struct {
	Pipeline []Stage `json:"pipeline"`
}

// JSON renders the spec in the engine's wire format.
func (p *PipelineSpec) JSON() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("pointcloud: encoding pipeline: %v", err)
	}
	return b, nil
}

// ClassFilter is the single source of truth for the point
// classification codes excluded from both raster products. The same
// filter value renders the point-filter stage and the raster writers'
// predicate, so the two cannot diverge.
type ClassFilter struct {
	excluded []int
}

// NewClassFilter returns a filter excluding the given classification
// codes. Duplicates are dropped and the codes are kept sorted.
func NewClassFilter(codes ...int) ClassFilter {
	seen := make(map[int]bool)
	var f ClassFilter
	for _, c := range codes {
		if !seen[c] {
			seen[c] = true
			f.excluded = append(f.excluded, c)
		}
	}
	sort.Ints(f.excluded)
	return f
}

// DefaultClassFilter excludes vegetation (classes 3-5) and low noise
// (class 19). Survey vintages with a different classification scheme
// should configure their own exclusion set.
func DefaultClassFilter() ClassFilter {
	return NewClassFilter(3, 4, 5, 19)
}

// Excluded returns the excluded classification codes, sorted.
func (f ClassFilter) Excluded() []int {
	out := make([]int, len(f.excluded))
	copy(out, f.excluded)
	return out
}

// RangeLimits renders the filter as a range-stage limits expression,
// collapsing consecutive codes into ranges. An empty filter renders to
// the empty string.
func (f ClassFilter) RangeLimits() string {
	if len(f.excluded) == 0 {
		return ""
	}
	var parts []string
	lo := f.excluded[0]
	hi := lo
	flush := func() {
		parts = append(parts, fmt.Sprintf("Classification![%d:%d]", lo, hi))
	}
	for _, c := range f.excluded[1:] {
		if c == hi+1 {
			hi = c
			continue
		}
		flush()
		lo, hi = c, c
	}
	flush()
	return strings.Join(parts, ",")
}

// Where renders the filter as a raster-writer predicate over the same
// excluded set as RangeLimits.
func (f ClassFilter) Where() string {
	if len(f.excluded) == 0 {
		return ""
	}
	parts := make([]string, len(f.excluded))
	for i, c := range f.excluded {
		parts[i] = fmt.Sprintf("Classification != %d", c)
	}
	return "(" + strings.Join(parts, " && ") + ")"
}

// Options control pipeline construction for all tiles of a run.
type Options struct {
	// Resolution is the raster cell edge length.
	Resolution float64

	// NoData is the nodata sentinel written into both products.
	NoData float64

	// SRS is the authoritative coordinate reference (e.g.
	// "EPSG:31983"), applied as an override because raw files may lack
	// an embedded reference.
	SRS string

	// Filter holds the classification codes excluded from both
	// products.
	Filter ClassFilter
}

// BuildPipeline assembles the ordered stage list for one tile: load
// each source with the coordinate-reference override, merge the sources
// into one point set, drop excluded classifications, compute height
// above ground with a nearest-neighbor ground model, and write the two
// raster products on the shared grid. Building is pure; execution is a
// separate step.
func BuildPipeline(sources []string, grid cityraster.RasterGrid, surfaceFile, hagFile string, opts Options) *PipelineSpec {
	spec := &PipelineSpec{}
	for _, src := range sources {
		spec.Pipeline = append(spec.Pipeline, Stage{
			"type":         "readers.las",
			"filename":     src,
			"override_srs": opts.SRS,
		})
	}
	spec.Pipeline = append(spec.Pipeline, Stage{"type": "filters.merge"})
	if limits := opts.Filter.RangeLimits(); limits != "" {
		spec.Pipeline = append(spec.Pipeline, Stage{
			"type":   "filters.range",
			"limits": limits,
		})
	}
	spec.Pipeline = append(spec.Pipeline, Stage{"type": "filters.hag_nn"})
	spec.Pipeline = append(spec.Pipeline,
		writerStage(surfaceFile, cityraster.Surface, grid, opts),
		writerStage(hagFile, cityraster.HeightAboveGround, grid, opts))
	return spec
}

// writerStage builds one raster writer. Both writers share the grid and
// the exclusion predicate.
func writerStage(file string, product cityraster.Product, grid cityraster.RasterGrid, opts Options) Stage {
	s := Stage{
		"type":         "writers.gdal",
		"filename":     file,
		"resolution":   grid.Resolution,
		"width":        grid.Width,
		"height":       grid.Height,
		"origin_x":     grid.OriginX,
		"origin_y":     grid.OriginY,
		"output_type":  "max",
		"dimension":    product.Dimension(),
		"data_type":    "float32",
		"nodata":       opts.NoData,
		"gdaldriver":   "GTiff",
		"gdalopts":     tileCreationOpts,
		"default_srs":  opts.SRS,
		"override_srs": opts.SRS,
	}
	if where := opts.Filter.Where(); where != "" {
		s["where"] = where
	}
	return s
}
