package document

import "sort"

// Resource names a collection kind under an owner
type Resource string

const (
	ResourceInvoices       Resource = "invoices"
	ResourceQuotes         Resource = "quotes"
	ResourceBills          Resource = "bills"
	ResourcePurchaseOrders Resource = "purchaseOrders"
	ResourceSalesOrders    Resource = "salesOrders"
	ResourceStock          Resource = "stock"
)

// ResourceSpec describes how documents of a resource are written
type ResourceSpec struct {
	Name Resource
	// IdentifierField holds the human identifier; empty when the resource
	// has none
	IdentifierField  string
	IdentifierPrefix string
	// Ledger resources carry items and derived totals
	Ledger bool
	// DateFields are normalized to canonical timestamps
	DateFields []string
	// ServerTimestampDates fall back to the store clock when unparseable
	ServerTimestampDates []string
	// Rules are validator tags for string fields
	Rules map[string]string
	// NumberRules are validator tags for numeric fields
	NumberRules map[string]string
	// ItemRules apply to each entry of items
	ItemRules map[string]string
	// Defaults fill absent fields on create
	Defaults Record
}

// Derived fields are computed on write; caller supplied values are dropped
var DerivedFields = []string{"subtotal", "discountAmount", "total"}

// LedgerInputs trigger a ledger recomputation when present in an update
var LedgerInputs = []string{"items", "discount", "discountType"}

var financialRules = map[string]string{
	"number":       "omitempty,max=64",
	"party":        "required,max=200",
	"status":       "omitempty,oneof=draft sent accepted rejected paid partially_paid overdue cancelled received fulfilled",
	"currency":     "omitempty,len=3,alpha",
	"discountType": "omitempty,oneof=percentage fixed",
	"notes":        "omitempty,max=2000",
}

var itemRules = map[string]string{
	"name":          "required,max=200",
	"specification": "omitempty,max=500",
}

func financial(name Resource, prefix string, dates ...string) ResourceSpec {
	return ResourceSpec{
		Name:                 name,
		IdentifierField:      "number",
		IdentifierPrefix:     prefix,
		Ledger:               true,
		DateFields:           append([]string{"issueDate"}, dates...),
		ServerTimestampDates: []string{"issueDate"},
		Rules:                financialRules,
		NumberRules:          map[string]string{"discount": "omitempty,min=0"},
		ItemRules:            itemRules,
		Defaults:             Record{"status": "draft", "discountType": "fixed"},
	}
}

var registry = map[Resource]ResourceSpec{
	ResourceInvoices:       financial(ResourceInvoices, "INV", "dueDate"),
	ResourceQuotes:         financial(ResourceQuotes, "QT", "validUntil"),
	ResourceBills:          financial(ResourceBills, "BILL", "dueDate"),
	ResourcePurchaseOrders: financial(ResourcePurchaseOrders, "PO", "expectedDate"),
	ResourceSalesOrders:    financial(ResourceSalesOrders, "SO", "deliveryDate"),
	ResourceStock: {
		Name:             ResourceStock,
		IdentifierField:  "sku",
		IdentifierPrefix: "SKU",
		DateFields:       []string{"lastCountedAt"},
		Rules: map[string]string{
			"sku":      "omitempty,max=64",
			"name":     "required,max=200",
			"unit":     "omitempty,max=16",
			"location": "omitempty,max=100",
		},
		NumberRules: map[string]string{
			"quantity":     "omitempty,min=0",
			"reorderLevel": "omitempty,min=0",
		},
	},
}

// Lookup returns the spec of a resource
func Lookup(name string) (ResourceSpec, bool) {
	spec, ok := registry[Resource(name)]
	return spec, ok
}

// Resources lists every known resource sorted by name
func Resources() []ResourceSpec {
	out := make([]ResourceSpec, 0, len(registry))
	for _, spec := range registry {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
