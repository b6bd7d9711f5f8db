// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import "golang.org/x/sys/unix"

func unveil(path, flags string) error {
	return unix.Unveil(path, flags)
}

func unveilBlock() error {
	return unix.UnveilBlock()
}
