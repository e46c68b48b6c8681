// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arcview

import (
	"fmt"
	"os/exec"
	"runtime"
)

var execCommand = exec.Command

// Opener hands an extracted file to the host.
type Opener interface {
	Open(path string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) error

func (f OpenerFunc) Open(path string) error { return f(path) }

// NopOpener does nothing, for headless use.
type NopOpener struct{}

func (NopOpener) Open(string) error { return nil }

// SystemOpener launches the operating system's default handler for the
// file and does not wait for it to exit.
type SystemOpener struct{}

func (SystemOpener) Open(path string) error {
	name, args := openCommand(runtime.GOOS, path)
	cmd := execCommand(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	go cmd.Wait()
	return nil
}

// openCommand returns the default-handler command line for goos.
func openCommand(goos, path string) (string, []string) {
	switch goos {
	case "windows":
		// the empty argument is the window title
		return "cmd", []string{"/C", "start", "", path}
	case "darwin":
		return "open", []string{path}
	default:
		return "xdg-open", []string{path}
	}
}
