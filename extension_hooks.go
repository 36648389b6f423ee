package fulfillment

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-fulfillment/compliance"
	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/webhooks"
)

// RulePack is a named set of compliance rules a lender adds on top of the
// built-in ones.
type RulePack struct {
	Name  string
	Rules []compliance.Rule
}

// NormalizerPack maps vendors to webhook normalizers. Entries replace the
// built-in normalizer of the same vendor.
type NormalizerPack struct {
	Name        string
	Normalizers map[string]webhooks.Normalizer
}

type CommandQueryBundleFactory func(facade *Facade) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	rulePacks       map[string]RulePack
	normalizerPacks map[string]NormalizerPack
	bundles         map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		rulePacks:       map[string]RulePack{},
		normalizerPacks: map[string]NormalizerPack{},
		bundles:         map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterRulePack(pack RulePack) error {
	if h == nil {
		return fmt.Errorf("fulfillment: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("fulfillment: rule pack name is required")
	}
	if len(pack.Rules) == 0 {
		return fmt.Errorf("fulfillment: rule pack %q has no rules", name)
	}
	for _, rule := range pack.Rules {
		if rule == nil {
			return fmt.Errorf("fulfillment: rule pack %q contains nil rule", name)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.rulePacks[name]; exists {
		return fmt.Errorf("fulfillment: rule pack %q already registered", name)
	}
	h.rulePacks[name] = RulePack{Name: name, Rules: append([]compliance.Rule(nil), pack.Rules...)}
	return nil
}

func (h *ExtensionHooks) RegisterNormalizerPack(pack NormalizerPack) error {
	if h == nil {
		return fmt.Errorf("fulfillment: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("fulfillment: normalizer pack name is required")
	}
	if len(pack.Normalizers) == 0 {
		return fmt.Errorf("fulfillment: normalizer pack %q has no normalizers", name)
	}
	normalized := NormalizerPack{Name: name, Normalizers: map[string]webhooks.Normalizer{}}
	for vendor, normalizer := range pack.Normalizers {
		vendor = core.NormalizeVendor(vendor)
		if vendor == "" || normalizer == nil {
			return fmt.Errorf("fulfillment: normalizer pack %q has an empty entry", name)
		}
		normalized.Normalizers[vendor] = normalizer
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.normalizerPacks[name]; exists {
		return fmt.Errorf("fulfillment: normalizer pack %q already registered", name)
	}
	h.normalizerPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(name string, factory CommandQueryBundleFactory) error {
	if h == nil {
		return fmt.Errorf("fulfillment: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("fulfillment: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("fulfillment: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("fulfillment: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyRulePacks registers every pack's rules with engine in pack name
// order.
func (h *ExtensionHooks) ApplyRulePacks(engine *compliance.Engine) error {
	if h == nil {
		return nil
	}
	if engine == nil {
		return fmt.Errorf("fulfillment: compliance engine is required")
	}
	for _, pack := range h.RulePacks() {
		for _, rule := range pack.Rules {
			if err := engine.Register(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyNormalizerPacks registers normalizers with controller in pack name
// order, so a later pack wins for the same vendor.
func (h *ExtensionHooks) ApplyNormalizerPacks(controller *webhooks.Controller) error {
	if h == nil {
		return nil
	}
	if controller == nil {
		return fmt.Errorf("fulfillment: webhook controller is required")
	}
	h.mu.RLock()
	names := sortedKeys(h.normalizerPacks)
	packs := make([]NormalizerPack, 0, len(names))
	for _, name := range names {
		packs = append(packs, h.normalizerPacks[name])
	}
	h.mu.RUnlock()

	for _, pack := range packs {
		vendors := sortedKeys(pack.Normalizers)
		for _, vendor := range vendors {
			if err := controller.Register(vendor, pack.Normalizers[vendor]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(facade *Facade) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if facade == nil {
		return nil, fmt.Errorf("fulfillment: facade is required")
	}

	h.mu.RLock()
	names := sortedKeys(h.bundles)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](facade)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) RulePacks() []RulePack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := sortedKeys(h.rulePacks)
	out := make([]RulePack, 0, len(names))
	for _, name := range names {
		pack := h.rulePacks[name]
		out = append(out, RulePack{
			Name:  pack.Name,
			Rules: append([]compliance.Rule(nil), pack.Rules...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.bundles)
}

func sortedKeys[V any](items map[string]V) []string {
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
