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
	"reflect"
	"testing"

	"github.com/lnashier/viper"

	"github.com/spatialmodel/cityraster"
)

func testViper() *viper.Viper {
	v := viper.New()
	v.Set("SRS", "EPSG:31983")
	v.Set("Resolution", 1.0)
	v.Set("NoData", -9999.0)
	v.Set("DataDir", "/data/tiles")
	v.Set("MosaicDir", "/data/mosaics")
	v.Set("ZonalDir", "/data/zonal")
	v.Set("ExcludedClasses", []int{3, 4, 5, 19})
	v.Set("Vintages", map[string]interface{}{
		"2017": map[string]interface{}{
			"idfield":    "id",
			"fileprefix": "SURVEY_2017_",
			"filesuffix": ".laz",
			"indexfile":  "/data/index/2017.shp",
			"rawdir":     "/data/raw/2017",
		},
		"2020": map[string]interface{}{
			"idfield":    "quadricula",
			"fileprefix": "",
			"filesuffix": ".laz",
			"indexfile":  "/data/index/2020.shp",
			"rawdir":     "/data/raw/2020",
		},
	})
	return v
}

func TestLoadConfig(t *testing.T) {
	c, err := LoadConfig(testViper())
	if err != nil {
		t.Fatal(err)
	}
	if c.SRS != "EPSG:31983" || c.Resolution != 1 || c.NoData != -9999 {
		t.Errorf("raster parameters %+v", c)
	}
	if want := []int{3, 4, 5, 19}; !reflect.DeepEqual(c.ExcludedClasses, want) {
		t.Errorf("excluded classes %v; want %v", c.ExcludedClasses, want)
	}
	if want := []int{2017, 2020}; !reflect.DeepEqual(c.Years(), want) {
		t.Errorf("years %v; want %v", c.Years(), want)
	}

	rule, err := c.Rule(2020)
	if err != nil {
		t.Fatal(err)
	}
	if rule.IDField != "quadricula" || rule.FilePrefix != "" || rule.FileSuffix != ".laz" {
		t.Errorf("vintage rule %+v", rule)
	}
	if got, want := rule.SourcePath("3314-2"), "/data/raw/2020/3314-2.laz"; got != want {
		t.Errorf("source path %q; want %q", got, want)
	}

	if _, err := c.Rule(1999); !cityraster.IsConfiguration(err) {
		t.Errorf("got %v; want a configuration error for an unknown vintage", err)
	}
}

func TestLoadConfig_errors(t *testing.T) {
	t.Run("missing SRS", func(t *testing.T) {
		v := testViper()
		v.Set("SRS", "")
		if _, err := LoadConfig(v); !cityraster.IsConfiguration(err) {
			t.Errorf("got %v; want a configuration error", err)
		}
	})
	t.Run("bad resolution", func(t *testing.T) {
		v := testViper()
		v.Set("Resolution", -1.0)
		if _, err := LoadConfig(v); !cityraster.IsConfiguration(err) {
			t.Errorf("got %v; want a configuration error", err)
		}
	})
	t.Run("bad vintage year", func(t *testing.T) {
		v := testViper()
		v.Set("Vintages", map[string]interface{}{
			"notayear": map[string]interface{}{"idfield": "id", "indexfile": "x.shp", "rawdir": "/raw"},
		})
		if _, err := LoadConfig(v); !cityraster.IsConfiguration(err) {
			t.Errorf("got %v; want a configuration error", err)
		}
	})
	t.Run("incomplete rule", func(t *testing.T) {
		v := testViper()
		v.Set("Vintages", map[string]interface{}{
			"2017": map[string]interface{}{"idfield": "id"},
		})
		if _, err := LoadConfig(v); err == nil {
			t.Error("expected an error for an incomplete vintage rule")
		}
	})
}

// Excluded classes may arrive as a JSON string when set from the
// command line.
func TestGetIntSlice(t *testing.T) {
	v := testViper()
	v.Set("ExcludedClasses", "[3,4,5,19]")
	c, err := LoadConfig(v)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int{3, 4, 5, 19}; !reflect.DeepEqual(c.ExcludedClasses, want) {
		t.Errorf("got %v; want %v", c.ExcludedClasses, want)
	}

	v.Set("ExcludedClasses", "not json")
	if _, err := LoadConfig(v); !cityraster.IsConfiguration(err) {
		t.Errorf("got %v; want a configuration error", err)
	}
}

func TestGetStringMapString(t *testing.T) {
	v := viper.New()
	want := map[string]string{"built": "valid_area / area"}

	v.Set("OutputVariables", want)
	if got := GetStringMapString("OutputVariables", v); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v; want %v", got, want)
	}

	v.Set("OutputVariables", `{"built": "valid_area / area"}`)
	if got := GetStringMapString("OutputVariables", v); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v; want %v", got, want)
	}

	empty := viper.New()
	if got := GetStringMapString("OutputVariables", empty); len(got) != 0 {
		t.Errorf("got %v; want an empty map", got)
	}
}
