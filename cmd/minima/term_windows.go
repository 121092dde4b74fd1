//go:build windows

package main

import "github.com/pkg/errors"

// setRawIO has no termios equivalent wired up for Windows: it always returns
// an error, so `-i` fails there.
func setRawIO() (func(), error) {
	return nil, errors.New("raw IO not supported on windows")
}
