//go:build linux

package host

import (
	"fmt"
	"plugin"
)

// loadPluginDriver dlopen-loads filename and resolves its Initialize
// symbol. There is no third-party ecosystem substitute for Go's
// plugin package here: it is the only way to load a separately
// compiled .so into a running Go process, so the standard library is
// the correct tool, not a shortcut around one.
func loadPluginDriver(filename string) (Driver, error) {
	p, err := plugin.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("host: opening %s: %w", filename, err)
	}
	sym, err := p.Lookup("Initialize")
	if err != nil {
		return nil, fmt.Errorf("host: %s missing Initialize: %w", filename, err)
	}
	initFn, ok := sym.(func(*Slot, Services) error)
	if !ok {
		return nil, fmt.Errorf("host: %s Initialize has unexpected signature", filename)
	}
	return pluginDriver{initFn}, nil
}

type pluginDriver struct {
	initFn func(*Slot, Services) error
}

func (p pluginDriver) Initialize(slot *Slot, svc Services) error {
	return p.initFn(slot, svc)
}
