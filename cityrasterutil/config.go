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

package cityrasterutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/lnashier/viper"
	"github.com/spf13/cast"

	"github.com/spatialmodel/cityraster"
)

// Config holds the validated run configuration: the global raster
// parameters plus one immutable rule record per survey vintage. It is
// loaded once at startup and never mutated.
type Config struct {
	// SRS is the authoritative coordinate reference system.
	SRS string

	// Resolution is the raster cell edge length.
	Resolution float64

	// NoData is the canonical nodata sentinel.
	NoData float64

	// DataDir is the base directory for per-tile rasters.
	DataDir string

	// MosaicDir receives city mosaics.
	MosaicDir string

	// ZonalDir receives zonal statistics tables.
	ZonalDir string

	// ExcludedClasses are the point classification codes dropped from
	// both raster products.
	ExcludedClasses []int

	// Vintages maps each survey year to its tile-location rule.
	Vintages map[int]cityraster.VintageRule
}

// LoadConfig reads and validates the run configuration, failing with a
// ConfigurationError before any tile work begins.
func LoadConfig(cfg *viper.Viper) (*Config, error) {
	c := &Config{
		SRS:        os.ExpandEnv(cfg.GetString("SRS")),
		Resolution: cfg.GetFloat64("Resolution"),
		NoData:     cfg.GetFloat64("NoData"),
		DataDir:    os.ExpandEnv(cfg.GetString("DataDir")),
		MosaicDir:  os.ExpandEnv(cfg.GetString("MosaicDir")),
		ZonalDir:   os.ExpandEnv(cfg.GetString("ZonalDir")),
		Vintages:   make(map[int]cityraster.VintageRule),
	}
	if c.SRS == "" {
		return nil, &cityraster.ConfigurationError{Reason: "SRS is not set"}
	}
	if c.Resolution <= 0 {
		return nil, &cityraster.ConfigurationError{Reason: "Resolution must be positive"}
	}
	if c.DataDir == "" {
		return nil, &cityraster.ConfigurationError{Reason: "DataDir is not set"}
	}

	excluded, err := getIntSlice("ExcludedClasses", cfg)
	if err != nil {
		return nil, &cityraster.ConfigurationError{
			Reason: fmt.Sprintf("ExcludedClasses: %v", err)}
	}
	c.ExcludedClasses = excluded

	vintages := cast.ToStringMap(cfg.Get("Vintages"))
	for yearStr, ruleI := range vintages {
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			return nil, &cityraster.ConfigurationError{
				Reason: fmt.Sprintf("vintage year %q is not a number", yearStr)}
		}
		m := cast.ToStringMapString(ruleI)
		rule := cityraster.VintageRule{
			IDField:    m["idfield"],
			FilePrefix: m["fileprefix"],
			FileSuffix: m["filesuffix"],
			IndexFile:  os.ExpandEnv(m["indexfile"]),
			RawDir:     os.ExpandEnv(m["rawdir"]),
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("cityrasterutil: vintage %d: %v", year, err)
		}
		c.Vintages[year] = rule
	}
	return c, nil
}

// Rule returns the vintage rule for a survey year.
func (c *Config) Rule(year int) (cityraster.VintageRule, error) {
	rule, ok := c.Vintages[year]
	if !ok {
		return cityraster.VintageRule{}, &cityraster.ConfigurationError{
			Reason: fmt.Sprintf("no vintage rule configured for year %d", year)}
	}
	return rule, nil
}

// Years returns the configured survey years in ascending order.
func (c *Config) Years() []int {
	years := make([]int, 0, len(c.Vintages))
	for y := range c.Vintages {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// getIntSlice returns an []int from a viper configuration, accounting
// for the fact that it might be a JSON array if it was set from a
// command-line argument.
func getIntSlice(varName string, cfg *viper.Viper) ([]int, error) {
	i := cfg.Get(varName)
	switch v := i.(type) {
	case []int:
		return v, nil
	case []interface{}:
		return cast.ToIntSliceE(v)
	case string:
		var o []int
		if err := json.Unmarshal([]byte(v), &o); err != nil {
			return nil, err
		}
		return o, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid type %T for variable %s", i, varName)
	}
}

// GetStringMapString returns a map[string]string from a viper
// configuration, accounting for the fact that it might be a JSON object
// if it was set from a command-line argument.
func GetStringMapString(varName string, cfg *viper.Viper) map[string]string {
	i := cfg.Get(varName)
	switch i.(type) {
	case map[string]string:
		return i.(map[string]string)
	case map[string]interface{}:
		return cast.ToStringMapString(i)
	case string:
		b := bytes.NewBuffer(([]byte)(i.(string)))
		d := json.NewDecoder(b)
		o := make(map[string]string)
		if err := d.Decode(&o); err != nil {
			panic(err)
		}
		return o
	case nil:
		return make(map[string]string)
	default:
		panic(fmt.Errorf("invalid type for variable %s: %#v", varName, i))
	}
}
