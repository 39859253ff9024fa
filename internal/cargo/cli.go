// Copyright (c) 2024 santosr2
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package cargo

import (
	"context"
	"errors"
	"os"
	"os/exec"
)

// CLI adapts the cargo subprocess functions to the executor's reader and
// pinner interfaces.
type CLI struct{}

// Read implements the executor's metadata reader.
func (CLI) Read(ctx context.Context) (*Metadata, error) {
	return ReadMetadata(ctx)
}

// TryPinPrecise implements the executor's pinner.
func (CLI) TryPinPrecise(ctx context.Context, name, current, target string) (PinResult, error) {
	return TryPinPrecise(ctx, name, current, target)
}

// Run executes the wrapped cargo command with inherited stdio and returns
// its exit code. A spawn failure is returned as an error.
func Run(ctx context.Context, args []string) (int, error) {
	cmd := exec.CommandContext(ctx, "cargo", args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 1, err
}
