package fetch

import (
	"slices"
	"strings"
)

// Method is a way of obtaining data.
type Method string

const (
	MethodWeb   Method = "WEB"
	MethodCache Method = "CACHE"
)

// Kind names the operation an order is declared for.
type Kind string

const (
	KindConfig Kind = "CONFIG"
	KindInit   Kind = "INIT"
	KindNext   Kind = "NEXT"
	KindChange Kind = "CHANGE"
)

// Order is the retry plan of one operation. Orders are declared once and
// never modified.
type Order struct {
	Kind    Kind
	Methods []Method
}

// Canonical orders.
var (
	OrderConfig = Order{Kind: KindConfig, Methods: []Method{MethodWeb}}
	OrderInit   = Order{Kind: KindInit, Methods: []Method{MethodCache, MethodWeb, MethodWeb, MethodWeb}}
	OrderNext   = Order{Kind: KindNext, Methods: []Method{MethodWeb}}
	OrderChange = Order{Kind: KindChange, Methods: []Method{MethodWeb, MethodWeb, MethodWeb}}
)

// String returns e.g. "INIT[CACHE,WEB,WEB,WEB]".
func (o Order) String() string {
	parts := make([]string, len(o.Methods))
	for i, m := range o.Methods {
		parts[i] = string(m)
	}
	return string(o.Kind) + "[" + strings.Join(parts, ",") + "]"
}

// needsDelay reports whether the method at position retry was already used
// earlier in the order.
func (o Order) needsDelay(retry int) bool {
	if retry <= 0 || retry >= len(o.Methods) {
		return false
	}
	return slices.Contains(o.Methods[:retry], o.Methods[retry])
}
