package websocket

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ExtensionFactory creates an extension instance from the parameters the
// server accepted in Sec-WebSocket-Extensions. Parameters without a value map
// to the empty string.
type ExtensionFactory func(params map[string]string) (*Extension, error)

type registration struct {
	factory ExtensionFactory
	offer   []string
}

// Registry maps extension names to factories.
//
// A Registry is built once, passed through Config and consulted by Dial to
// offer extensions and to instantiate the ones the server accepted. There is
// no package-level registry.
type Registry struct {
	mu    sync.RWMutex
	order []string
	regs  map[string]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[string]registration)}
}

// Register adds or replaces the factory for name. offerParams are appended to
// the offer sent during the handshake, e.g. "client_no_context_takeover".
func (r *Registry) Register(name string, f ExtensionFactory, offerParams ...string) {
	name = strings.ToLower(strings.TrimSpace(name))

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.regs[name]; !ok {
		r.order = append(r.order, name)
	}
	r.regs[name] = registration{factory: f, offer: offerParams}
}

// Lookup returns the factory registered for name.
func (r *Registry) Lookup(name string) (ExtensionFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.regs[strings.ToLower(name)]
	return reg.factory, ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.order)
}

// Offer returns the Sec-WebSocket-Extensions request header value, or "" for
// an empty registry.
func (r *Registry) Offer() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parts := make([]string, 0, len(r.order))
	for _, name := range r.order {
		parts = append(parts, strings.Join(append([]string{name}, r.regs[name].offer...), "; "))
	}
	return strings.Join(parts, ", ")
}

// Negotiate instantiates the extensions listed in a Sec-WebSocket-Extensions
// response header, in header order.
//
// RFC 6455 Section 9.1: the server may only accept extensions the client
// offered, and each extension at most once.
func (r *Registry) Negotiate(header string) ([]*Extension, error) {
	offers, err := parseExtensions(header)
	if err != nil {
		return nil, err
	}

	exts := make([]*Extension, 0, len(offers))
	seen := make(map[string]bool, len(offers))
	for _, o := range offers {
		if seen[o.name] {
			return nil, fmt.Errorf("%w: %s accepted twice", ErrUnsupportedExtension, o.name)
		}
		seen[o.name] = true

		f, ok := r.Lookup(o.name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedExtension, o.name)
		}
		ext, err := f(o.params)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedExtension, o.name, err)
		}
		exts = append(exts, ext)
	}
	return exts, nil
}

type extensionOffer struct {
	name   string
	params map[string]string
}

// parseExtensions splits "a; k=v, b" into its elements. Quoted parameter
// values are unquoted.
func parseExtensions(header string) ([]extensionOffer, error) {
	var offers []extensionOffer
	for _, elem := range strings.Split(header, ",") {
		elem = strings.TrimSpace(elem)
		if elem == "" {
			continue
		}

		fields := strings.Split(elem, ";")
		name := strings.ToLower(strings.TrimSpace(fields[0]))
		if name == "" {
			return nil, fmt.Errorf("%w: empty extension name in %q", ErrBadHandshake, header)
		}

		o := extensionOffer{name: name, params: make(map[string]string)}
		for _, field := range fields[1:] {
			k, v, _ := strings.Cut(field, "=")
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" {
				return nil, fmt.Errorf("%w: empty parameter for %s", ErrBadHandshake, name)
			}
			o.params[k] = strings.Trim(strings.TrimSpace(v), `"`)
		}
		offers = append(offers, o)
	}
	return offers, nil
}
