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
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/ctessum/geom/encoding/shp"
	"github.com/tealeg/xlsx"
)

func testStats() []Stats {
	return []Stats{
		{
			ID:              "001001",
			Geom:            square(0, 0, 10),
			Area:            100,
			CountTotal:      100,
			CountValid:      40,
			Min:             2.5,
			Max:             12,
			Sum:             200,
			Mean:            5,
			Median:          4.5,
			Std:             1.25,
			ValidFrac:       0.4,
			NoDataFrac:      0.6,
			ValidArea:       40,
			Year:            2017,
			RasterKind:      "hag",
			HeightThreshold: 2,
		},
		{
			ID:         "001002",
			Geom:       square(10, 0, 10),
			Area:       100,
			CountTotal: 100,
			Year:       2017,
			RasterKind: "hag",
		},
	}
}

func TestNewOutputter_names(t *testing.T) {
	if _, err := NewOutputter("out.shp", map[string]string{"built": "valid_area / area"}); err != nil {
		t.Error(err)
	}
	for name, expr := range map[string]string{
		"averylongcolumnname": "mean",
		"1bad":                "mean",
		"bad name":            "mean",
	} {
		if _, err := NewOutputter("out.shp", map[string]string{name: expr}); err == nil {
			t.Errorf("expected an error for output name %q", name)
		}
	}
	if _, err := NewOutputter("out.shp", map[string]string{"broken": "mean +"}); err == nil {
		t.Error("expected an error for a malformed expression")
	}
}

func TestWriteShapefile(t *testing.T) {
	dir, err := ioutil.TempDir("", "cityrastertest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	fileName := filepath.Join(dir, "stats.shp")

	o, err := NewOutputter(fileName, map[string]string{"built": "valid_area / area"})
	if err != nil {
		t.Fatal(err)
	}
	if err := o.WriteShapefile(testStats(), `PROJCS["SIRGAS"]`); err != nil {
		t.Fatal(err)
	}

	d, err := shp.NewDecoder(fileName)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	var rows []map[string]string
	for {
		_, fields, more := d.DecodeRowFields("id", "count_val", "valid_frac", "mean", "year", "raster", "built")
		if !more {
			break
		}
		rows = append(rows, fields)
	}
	if err := d.Error(); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d records; want 2", len(rows))
	}
	if rows[0]["id"] != "001001" || rows[1]["id"] != "001002" {
		t.Errorf("identifiers %q, %q", rows[0]["id"], rows[1]["id"])
	}
	if v, err := strconv.ParseFloat(rows[0]["valid_frac"], 64); err != nil || v != 0.4 {
		t.Errorf("valid_frac = %q; want 0.4", rows[0]["valid_frac"])
	}
	if v, err := strconv.ParseFloat(rows[0]["built"], 64); err != nil || v != 0.4 {
		t.Errorf("built = %q; want 0.4", rows[0]["built"])
	}
	if v, err := strconv.ParseFloat(rows[0]["count_val"], 64); err != nil || v != 40 {
		t.Errorf("count_val = %q; want 40", rows[0]["count_val"])
	}

	prj, err := ioutil.ReadFile(filepath.Join(dir, "stats.prj"))
	if err != nil {
		t.Fatal(err)
	}
	if string(prj) != `PROJCS["SIRGAS"]` {
		t.Errorf("projection file holds %q", prj)
	}
}

func TestWriteXLSX(t *testing.T) {
	dir, err := ioutil.TempDir("", "cityrastertest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	fileName := filepath.Join(dir, "stats.shp")

	o, err := NewOutputter(fileName, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.WriteXLSX(testStats()); err != nil {
		t.Fatal(err)
	}

	f, err := xlsx.OpenFile(filepath.Join(dir, "stats.xlsx"))
	if err != nil {
		t.Fatal(err)
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) != 3 { // header + 2 records
		t.Fatalf("got %d rows; want 3", len(sheet.Rows))
	}
	if got := sheet.Rows[0].Cells[0].Value; got != "id" {
		t.Errorf("header starts with %q; want id", got)
	}
	if got := sheet.Rows[1].Cells[0].Value; got != "001001" {
		t.Errorf("first record id %q; want 001001", got)
	}
}
