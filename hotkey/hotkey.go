package hotkey

// Hotkey is the global Ctrl+Shift+Space binding. Keydown fires once per
// physical press; auto-repeat is filtered out.
type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

// Combo names the binding for help text.
const Combo = "Ctrl+Shift+Space"

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
