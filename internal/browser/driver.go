package browser

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Driver connects to a running browser and yields the shared page. Drivers
// register themselves by name, database/sql style, so the core never imports
// an automation library directly. Production drivers live in their own
// packages and are linked into the binary with a blank import, the same way
// sql drivers are; only the "fake" driver ships in-tree.
type Driver interface {
	Connect(ctx context.Context, addr string) (Page, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available under the given name. It panics on
// duplicate registration, matching database/sql semantics.
func Register(name string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("browser: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("browser: Register called twice for driver " + name)
	}
	drivers[name] = d
}

// Connect opens the shared page through the named driver.
func Connect(ctx context.Context, name, addr string) (Page, error) {
	driversMu.RLock()
	d, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("browser: no driver %q is linked into this binary (registered: %v)", name, driverNames())
	}
	return d.Connect(ctx, addr)
}

func driverNames() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
