package journal

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Category is the role a document plays within a batch.
type Category int

const (
	PurchaseOrder Category = iota + 1
	SalesOrder
	SupplierInvoice
	CustomerInvoice
)

// Categories lists every category in display order.
var Categories = []Category{PurchaseOrder, SalesOrder, SupplierInvoice, CustomerInvoice}

var categoryLabels = map[Category]string{
	PurchaseOrder:   "Purchase Order",
	SalesOrder:      "Sales Order",
	SupplierInvoice: "Supplier Invoice",
	CustomerInvoice: "Customer Invoice",
}

// Label returns the human label, e.g. "Purchase Order".
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

func (c Category) String() string { return c.Label() }

// Valid reports whether c is one of the four known categories.
func (c Category) Valid() bool {
	_, ok := categoryLabels[c]
	return ok
}

// FolderName is the directory a category's files live in under a batch:
// the label with every character outside [A-Za-z0-9_ -] removed.
func (c Category) FolderName() string {
	return SanitizeFolderName(c.Label())
}

// SanitizeFolderName keeps only letters, digits, underscore, dash and space.
func SanitizeFolderName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == ' ') {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// ParseCategory accepts a label ("Purchase Order"), a folder name, or any
// spelling that normalizes to the same letters ("purchase_order",
// "PurchaseOrder").
func ParseCategory(s string) (Category, bool) {
	want := normalizeCategory(s)
	if want == "" {
		return 0, false
	}
	for _, c := range Categories {
		if s == c.Label() || s == c.FolderName() || normalizeCategory(c.Label()) == want {
			return c, true
		}
	}
	return 0, false
}

func normalizeCategory(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MarshalJSON writes the category label.
func (c Category) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category %d", int(c))
	}
	return json.Marshal(c.Label())
}

// UnmarshalJSON accepts anything ParseCategory accepts.
func (c *Category) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("category: %w", err)
	}
	parsed, ok := ParseCategory(s)
	if !ok {
		return fmt.Errorf("unknown category %q", s)
	}
	*c = parsed
	return nil
}
