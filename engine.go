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
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// Engine invokes an external processing engine (the point-cloud
// rasterization engine or the raster mosaicking engine). Success is
// communicated through the process exit status; diagnostic text is
// captured and returned alongside the error on failure.
//
// Building a command is separate from running it, so pipeline and
// mosaic plans can be tested without an engine installed.
type Engine interface {
	Run(ctx context.Context, stdin []byte, name string, arg ...string) ([]byte, error)
}

// ExecEngine is an Engine backed by local process execution.
type ExecEngine struct {
	// Timeout bounds each invocation. Zero means no limit beyond the
	// caller's context.
	Timeout time.Duration
}

// Run executes the named program, feeding it stdin if non-nil, and
// returns the combined standard output and standard error. A non-zero
// exit or a cancelled context yields an ExternalEngineError; any
// partially written output files are the caller's to remove.
func (e ExecEngine) Run(ctx context.Context, stdin []byte, name string, arg ...string) ([]byte, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, name, arg...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, &ExternalEngineError{
			Cmd:    name + " " + strings.Join(arg, " "),
			Output: out,
			Err:    err,
		}
	}
	return out, nil
}
