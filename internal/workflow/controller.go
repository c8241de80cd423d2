package workflow

import (
	"strings"

	"promoflow/internal/activity"
	"promoflow/internal/rules"
	"promoflow/pkg/contracts/domain"
)

// Stage is the derived position of a session in the confirmation flow
type Stage string

const (
	StageNoMarket             Stage = "NoMarket"
	StageMarketChosen         Stage = "MarketChosen"
	StageAwaitingConfirmation Stage = "AwaitingConfirmation"
	StageConfirmed            Stage = "Confirmed"
)

// DefaultMarkets is the market enumeration used when none is configured
var DefaultMarkets = []string{"US", "UK", "DE", "FR", "IT"}

// Controller gates confirmation on market choice and data validity
type Controller struct {
	store   *Store
	log     *activity.Log
	markets []string
}

// NewController creates a controller over store
func NewController(store *Store, log *activity.Log, markets []string) *Controller {
	if len(markets) == 0 {
		markets = DefaultMarkets
	}
	return &Controller{store: store, log: log, markets: append([]string(nil), markets...)}
}

// Markets returns the market enumeration
func (c *Controller) Markets() []string {
	return append([]string(nil), c.markets...)
}

// NormalizeMarket maps m onto the enumeration, case-insensitively.
// Anything outside it becomes "".
func (c *Controller) NormalizeMarket(m string) string {
	m = strings.TrimSpace(m)
	for _, known := range c.markets {
		if strings.EqualFold(known, m) {
			return known
		}
	}
	return ""
}

// ChooseMarket selects a market and returns the normalized value
func (c *Controller) ChooseMarket(m string) string {
	normalized := c.NormalizeMarket(m)
	if normalized == "" && strings.TrimSpace(m) != "" {
		c.store.RejectMarket(m)
		return ""
	}
	c.store.SetMarket(normalized)
	return normalized
}

// Confirm stores the valid rows as the confirmed subset for the chosen
// market. A *PreconditionError names the first unmet precondition.
func (c *Controller) Confirm() (*domain.Dataset, error) {
	if err := c.check(); err != nil {
		c.log.Errorf("Confirmation refused: %s", err.Message)
		return nil, err
	}

	market := c.store.Market()
	c.log.Infof("Confirming selection for country: %s", market)
	validated := c.store.Validated()
	subset := validated.Filter(func(i int, _ domain.Row) bool { return validated.IsValidAt(i) })
	if subset.RowCount() == 0 {
		c.log.Errorf("No valid rows found in the dataset")
		return nil, ErrNothingConfirmed
	}
	c.store.StoreConfirmed(subset, market)
	return c.store.Confirmed(), nil
}

func (c *Controller) check() *PreconditionError {
	if c.store.Market() == "" {
		return newPreconditionError(ReasonNoMarket)
	}
	if !c.store.IsValidationComplete() {
		return newPreconditionError(ReasonNotValidated)
	}
	if rules.ComputeStats(c.store.Validated()).Invalid > 0 {
		return newPreconditionError(ReasonInvalidRows)
	}
	return nil
}

// CanConfirm reports whether Confirm would succeed and, if not, why
func (c *Controller) CanConfirm() (bool, Reason) {
	if err := c.check(); err != nil {
		return false, err.Reason
	}
	return true, ""
}

// Stage derives the confirmation stage from the store
func (c *Controller) Stage() Stage {
	switch {
	case c.store.Market() == "":
		return StageNoMarket
	case c.store.IsConfirmationComplete():
		return StageConfirmed
	}
	if ok, _ := c.CanConfirm(); ok {
		return StageAwaitingConfirmation
	}
	return StageMarketChosen
}
