//go:build windows

package shutdown

import "os"

var signals = []os.Signal{os.Interrupt}
