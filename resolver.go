package cachecompress

import (
	"path"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/goforj/cachecompress/cachecore"
)

var (
	storeTypesMu sync.RWMutex
	storeTypes   = map[reflect.Type]cachecore.Driver{}
)

// RegisterStoreType maps the concrete type of store to driver. Driver packages
// call it from init so ResolveDriver recognises their stores exactly.
func RegisterStoreType(store cachecore.Store, driver cachecore.Driver) {
	if store == nil {
		return
	}
	storeTypesMu.Lock()
	storeTypes[reflect.TypeOf(store)] = driver
	storeTypesMu.Unlock()
}

// ResolveDriver names the backend behind store. Registered types win, then a
// store's own Driver method, then a name derived from the Go type
// (MyCustomStore becomes "my_custom").
func ResolveDriver(store cachecore.Store) cachecore.Driver {
	if store == nil {
		return cachecore.DriverNull
	}
	t := reflect.TypeOf(store)
	storeTypesMu.RLock()
	driver, ok := storeTypes[t]
	storeTypesMu.RUnlock()
	if ok {
		return driver
	}
	if reporter, ok := store.(cachecore.DriverReporter); ok {
		if driver := reporter.Driver(); driver != "" {
			return driver
		}
	}
	return deriveDriver(t)
}

func deriveDriver(t reflect.Type) cachecore.Driver {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if len(name) >= len("store") && strings.EqualFold(name[len(name)-len("store"):], "store") {
		name = name[:len(name)-len("store")]
	}
	if name == "" && t.PkgPath() != "" {
		name = path.Base(t.PkgPath())
	}
	if name == "" {
		return "custom"
	}
	return cachecore.Driver(snakeCase(name))
}

// snakeCase splits on case changes and keeps acronyms together: HTTPCache is http_cache.
func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
