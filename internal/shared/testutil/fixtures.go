// Package testutil holds shared helpers for package tests: a capturing slog
// handler and promotion dataset fixtures.
package testutil

import (
	"promoflow/pkg/contracts/domain"
)

// PromoColumns is the promo-retail column set in upload order
var PromoColumns = []string{"Category", "Item", "Density", "MSRP", "PROMO", "Discount", "Start Date", "End Date"}

// PromoRow builds a promo-retail row from plain strings; "" becomes null
func PromoRow(cells ...string) domain.Row {
	row := make(domain.Row, len(cells))
	for i, c := range cells {
		if c == "" {
			row[i] = domain.Null()
			continue
		}
		row[i] = domain.String(c)
	}
	return row
}

// ValidPromoRow returns a row passing every promo-retail rule
func ValidPromoRow(item string) domain.Row {
	return PromoRow("Beverages", item, "Low", "4.99", "3.99", "-1.00", "2024-01-01", "2024-01-31")
}

// PromoDataset builds a promo-retail dataset from rows
func PromoDataset(rows ...domain.Row) *domain.Dataset {
	return domain.NewDataset(PromoColumns, rows)
}

// ValidPromoDataset returns n rows that are all valid
func ValidPromoDataset(n int) *domain.Dataset {
	rows := make([]domain.Row, n)
	for i := range rows {
		rows[i] = ValidPromoRow("Item-" + string(rune('A'+i%26)))
	}
	return PromoDataset(rows...)
}
