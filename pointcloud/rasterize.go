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

package pointcloud

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/cityraster"
)

// Rasterizer builds and executes per-tile rasterization pipelines.
type Rasterizer struct {
	// Engine is the external point-cloud engine.
	Engine cityraster.Engine

	// OutputDir is the base output directory; per-year product
	// directories are created underneath it.
	OutputDir string

	// Opts control pipeline construction.
	Opts Options

	// Overwrite re-rasterizes tiles whose outputs already exist.
	Overwrite bool
}

// OutputPaths returns the surface and height-above-ground raster paths
// for a tile.
func (r *Rasterizer) OutputPaths(tile cityraster.TileFootprint) (surface, hag string) {
	base := filepath.Join(r.OutputDir, strconv.Itoa(tile.Year))
	surface = filepath.Join(base, cityraster.Surface.TileDir(),
		cityraster.Surface.TileFileName(tile.ID))
	hag = filepath.Join(base, cityraster.HeightAboveGround.TileDir(),
		cityraster.HeightAboveGround.TileFileName(tile.ID))
	return surface, hag
}

// ProcessTile rasterizes both products for one tile. If both outputs
// already exist and Overwrite is unset, the engine is not invoked at
// all. A failed or cancelled engine invocation may leave partially
// written outputs; those are removed before returning, so a later retry
// starts clean.
func (r *Rasterizer) ProcessTile(ctx context.Context, tile cityraster.TileFootprint) error {
	if tile.Geom == nil {
		return &cityraster.InvalidGeometryError{Reason: "tile " + tile.ID + " has no footprint geometry"}
	}
	grid, err := cityraster.ComputeGrid(tile.Geom.Bounds(), r.Opts.Resolution)
	if err != nil {
		return err
	}
	surface, hag := r.OutputPaths(tile)
	if !r.Overwrite && exists(surface) && exists(hag) {
		logrus.WithFields(logrus.Fields{
			"tile": tile.ID,
			"year": tile.Year,
		}).Info("skipping tile; outputs exist")
		return nil
	}
	for _, src := range tile.Sources {
		if !exists(src) {
			return &cityraster.InputNotFoundError{Path: src}
		}
	}
	for _, p := range []string{surface, hag} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("pointcloud: creating output directory: %v", err)
		}
	}
	spec := BuildPipeline(tile.Sources, grid, surface, hag, r.Opts)
	js, err := spec.JSON()
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"tile":    tile.ID,
		"year":    tile.Year,
		"sources": len(tile.Sources),
	}).Info("rasterizing tile")
	if _, err := r.Engine.Run(ctx, js, "pdal", "pipeline", "--stdin"); err != nil {
		// Partial outputs from a failed invocation are untrusted.
		os.Remove(surface)
		os.Remove(hag)
		return err
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
