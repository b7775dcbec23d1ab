//go:build !linux

package main

import (
	"os"
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

func init() {
	runtime.LockOSThread()
}

// The hotkey backend needs the main thread on macOS.
func main() {
	code := 0
	mainthread.Init(func() { code = run() })
	os.Exit(code)
}
