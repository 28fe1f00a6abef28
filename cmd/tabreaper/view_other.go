//go:build !linux

package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
	"pkt.systems/pslog"
)

func enableSingleView(pslog.Logger) func() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return func() {}
	}
	fmt.Print("\033[?1049h\033[?25l")
	return func() {
		fmt.Print("\033[?25h\033[?1049l")
	}
}
