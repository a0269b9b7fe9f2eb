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

import "fmt"

// ConfigurationError reports a missing or invalid run configuration,
// such as an absent input directory, footprint index, or identifier
// field for the requested year. It aborts a run before any tile work
// begins.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "cityraster: configuration: " + e.Reason
}

// InputNotFoundError reports that an expected input file for one tile
// is absent. It is fatal for that tile only; other tiles continue.
type InputNotFoundError struct {
	Path string
}

func (e *InputNotFoundError) Error() string {
	return "cityraster: input file not found: " + e.Path
}

// InvalidGeometryError reports a null, empty, or degenerate geometry.
// Callers should count and skip the affected feature rather than abort
// the whole run.
type InvalidGeometryError struct {
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	return "cityraster: invalid geometry: " + e.Reason
}

// ExternalEngineError reports a non-zero exit from an external
// processing engine. The captured diagnostic output is surfaced to the
// caller, which decides on retry or skip policy; the failed invocation
// is never retried automatically.
type ExternalEngineError struct {
	Cmd    string
	Output []byte
	Err    error
}

func (e *ExternalEngineError) Error() string {
	return fmt.Sprintf("cityraster: external engine %q: %v: %s", e.Cmd, e.Err, e.Output)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	_, ok := err.(*ConfigurationError)
	return ok
}

// IsInputNotFound reports whether err is an InputNotFoundError.
func IsInputNotFound(err error) bool {
	_, ok := err.(*InputNotFoundError)
	return ok
}

// IsInvalidGeometry reports whether err is an InvalidGeometryError.
func IsInvalidGeometry(err error) bool {
	_, ok := err.(*InvalidGeometryError)
	return ok
}

// IsExternalEngine reports whether err is an ExternalEngineError.
func IsExternalEngine(err error) bool {
	_, ok := err.(*ExternalEngineError)
	return ok
}
