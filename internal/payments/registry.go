package payments

import (
	"fmt"
	"sync"

	"github.com/angelmondragon/tishcommerce-checkout/pkg/enums"
)

// Registry maps payment methods to their gateways.
type Registry struct {
	mu       sync.RWMutex
	gateways map[enums.PaymentMethod]Gateway
}

func NewRegistry(gateways ...Gateway) (*Registry, error) {
	r := &Registry{gateways: make(map[enums.PaymentMethod]Gateway, len(gateways))}
	for _, gw := range gateways {
		if err := r.Register(gw); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(gw Gateway) error {
	if gw == nil {
		return fmt.Errorf("gateway required")
	}
	method := gw.Method()
	if !method.RequiresGateway() {
		return fmt.Errorf("payment method %q does not use a gateway", method)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.gateways[method]; dup {
		return fmt.Errorf("gateway for %q already registered", method)
	}
	r.gateways[method] = gw
	return nil
}

func (r *Registry) Get(method enums.PaymentMethod) (Gateway, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[method]
	return gw, ok
}
