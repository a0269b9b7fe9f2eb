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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
)

// TileFootprint is one entry of the tile footprint index: the coverage
// polygon of a survey tile together with the raw point-cloud source
// files that cover it. Footprints are immutable once loaded.
type TileFootprint struct {
	ID      string
	Geom    geom.Polygonal
	Year    int
	Sources []string
}

// VintageRule describes how to locate the tiles of one survey vintage.
// Vintages differ in the identifier field of the footprint index and in
// the file name template used to locate the raw point-cloud sources, so
// the rules are versioned configuration rather than code branches.
type VintageRule struct {
	// IDField is the footprint index attribute holding the tile identifier.
	IDField string

	// FilePrefix and FileSuffix wrap the tile identifier to form the
	// raw source file name.
	FilePrefix string
	FileSuffix string

	// IndexFile is the path of the footprint index shapefile.
	IndexFile string

	// RawDir is the directory holding the raw point-cloud sources.
	RawDir string
}

// Validate checks that the rule is complete enough to locate tiles.
func (r VintageRule) Validate() error {
	if r.IDField == "" {
		return &ConfigurationError{Reason: "vintage rule is missing the tile identifier field"}
	}
	if r.IndexFile == "" {
		return &ConfigurationError{Reason: "vintage rule is missing the footprint index file"}
	}
	if r.RawDir == "" {
		return &ConfigurationError{Reason: "vintage rule is missing the raw source directory"}
	}
	return nil
}

// SourcePath returns the expected raw point-cloud file for a tile.
func (r VintageRule) SourcePath(tileID string) string {
	return filepath.Join(r.RawDir, r.FilePrefix+tileID+r.FileSuffix)
}

// LoadFootprints reads the tile footprint index for one survey vintage.
// A missing index or raw source directory is a ConfigurationError; the
// existence of each tile's source files is checked later, per tile, so
// that a single missing file does not abort the whole run.
func LoadFootprints(rule VintageRule, year int) ([]TileFootprint, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(rule.RawDir); err != nil {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("raw source directory %s for year %d: %v", rule.RawDir, year, err)}
	}
	if _, err := os.Stat(rule.IndexFile); err != nil {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("footprint index %s for year %d: %v", rule.IndexFile, year, err)}
	}
	d, err := shp.NewDecoder(rule.IndexFile)
	if err != nil {
		return nil, fmt.Errorf("cityraster: opening footprint index %s: %v", rule.IndexFile, err)
	}
	defer d.Close()

	var tiles []TileFootprint
	for {
		g, fields, more := d.DecodeRowFields(rule.IDField)
		if !more {
			break
		}
		id, ok := fields[rule.IDField]
		if !ok {
			return nil, &ConfigurationError{
				Reason: fmt.Sprintf("footprint index %s has no identifier field %q",
					rule.IndexFile, rule.IDField)}
		}
		id = strings.TrimSpace(id)
		poly, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("cityraster: footprint index %s: tile %s: footprints must be polygons",
				rule.IndexFile, id)
		}
		tiles = append(tiles, TileFootprint{
			ID:      id,
			Geom:    poly,
			Year:    year,
			Sources: []string{rule.SourcePath(id)},
		})
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("cityraster: reading footprint index %s: %v", rule.IndexFile, err)
	}
	return tiles, nil
}

// SelectTile reduces a footprint list to the single tile with the given
// identifier, for single-tile runs.
func SelectTile(tiles []TileFootprint, tileID string) ([]TileFootprint, error) {
	for _, t := range tiles {
		if t.ID == tileID {
			return []TileFootprint{t}, nil
		}
	}
	return nil, fmt.Errorf("cityraster: tile %q not found in the footprint index", tileID)
}
