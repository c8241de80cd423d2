package rules

import (
	"promoflow/pkg/contracts/domain"
)

// Messages shared by every schema variant
const (
	MsgInvalidStartDate = "Invalid Start Date"
	MsgInvalidEndDate   = "Invalid End Date"
	MsgDateOrder        = "Start Date must be before End Date"
	MsgRowError         = "Row validation error"
)

// rule fails a row when fails returns true for the cells of its columns
type rule struct {
	message string
	columns []string
	fails   func(cells ...domain.Value) bool
}

// buildRules returns the rule set for a schema in its fixed evaluation order
func buildRules(s Schema) []rule {
	var out []rule
	for _, f := range s.TextFields {
		out = append(out, rule{
			message: "Missing " + f,
			columns: []string{f},
			fails:   func(c ...domain.Value) bool { return isBlank(c[0]) },
		})
	}

	out = append(out, numericRule(s.ListPrice, s.ListPrice+" must be > 0", func(n float64) bool { return n > 0 }))
	out = append(out, numericRule(s.PromoPrice, s.PromoPrice+" must be >= 0", func(n float64) bool { return n >= 0 }))
	if s.Discount != "" {
		out = append(out, numericRule(s.Discount, s.Discount+" should be <= 0", func(n float64) bool { return n <= 0 }))
	}

	out = append(out,
		rule{
			message: MsgInvalidStartDate,
			columns: []string{s.StartDate},
			fails:   func(c ...domain.Value) bool { _, err := parseDate(c[0]); return err != nil },
		},
		rule{
			message: MsgInvalidEndDate,
			columns: []string{s.EndDate},
			fails:   func(c ...domain.Value) bool { _, err := parseDate(c[0]); return err != nil },
		},
		rule{
			message: MsgDateOrder,
			columns: []string{s.StartDate, s.EndDate},
			fails: func(c ...domain.Value) bool {
				start, err := parseDate(c[0])
				if err != nil {
					return true
				}
				end, err := parseDate(c[1])
				if err != nil {
					return true
				}
				return !start.Before(end)
			},
		},
	)
	return out
}

// numericRule passes when the cell parses and ok holds; a parse error fails
func numericRule(column, message string, ok func(float64) bool) rule {
	return rule{
		message: message,
		columns: []string{column},
		fails: func(c ...domain.Value) bool {
			n, err := parseNumber(c[0])
			return err != nil || !ok(n)
		},
	}
}
