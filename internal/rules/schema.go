package rules

import (
	"fmt"
	"sort"
	"strings"
)

// Schema variant names accepted by SchemaByName
const (
	SchemaPromoRetail = "promo-retail"
	SchemaProductID   = "product-id"
)

// Schema names the columns each rule reads. An empty Discount disables the
// discount rule.
type Schema struct {
	Name       string   `json:"name" yaml:"name"`
	TextFields []string `json:"text_fields" yaml:"text_fields"`
	ListPrice  string   `json:"list_price" yaml:"list_price"`
	PromoPrice string   `json:"promo_price" yaml:"promo_price"`
	Discount   string   `json:"discount,omitempty" yaml:"discount"`
	StartDate  string   `json:"start_date" yaml:"start_date"`
	EndDate    string   `json:"end_date" yaml:"end_date"`
	// Required lists every column that must be present, in display order
	Required []string `json:"required" yaml:"required"`
}

// PromoRetail is the Category/Item/MSRP/PROMO layout used by retail uploads
var PromoRetail = Schema{
	Name:       SchemaPromoRetail,
	TextFields: []string{"Category", "Item", "Density"},
	ListPrice:  "MSRP",
	PromoPrice: "PROMO",
	Discount:   "Discount",
	StartDate:  "Start Date",
	EndDate:    "End Date",
	Required:   []string{"Category", "Item", "Density", "MSRP", "PROMO", "Discount", "Start Date", "End Date"},
}

// ProductID is the ProductID/ItemID layout. It carries no discount column.
var ProductID = Schema{
	Name:       SchemaProductID,
	TextFields: []string{"ProductID", "ItemID"},
	ListPrice:  "ActualPrice",
	PromoPrice: "PromoPrice",
	StartDate:  "StartDate",
	EndDate:    "EndDate",
	Required:   []string{"ProductID", "ItemID", "ActualPrice", "PromoPrice", "StartDate", "EndDate"},
}

var schemas = map[string]Schema{
	SchemaPromoRetail: PromoRetail,
	SchemaProductID:   ProductID,
}

// SchemaByName returns a registered schema variant
func SchemaByName(name string) (Schema, error) {
	s, ok := schemas[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Schema{}, fmt.Errorf("unknown schema variant %q (known: %s)", name, strings.Join(SchemaNames(), ", "))
	}
	return s, nil
}

// SchemaNames lists the registered variants
func SchemaNames() []string {
	names := make([]string, 0, len(schemas))
	for n := range schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MissingColumns returns the required columns absent from columns
func (s Schema) MissingColumns(columns []string) []string {
	have := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		have[c] = struct{}{}
	}
	var missing []string
	for _, c := range s.Required {
		if _, ok := have[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}
