// Package diagnostics turns a delivery-options response into typed findings and a run verdict.
package diagnostics

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"shipsanity/internal/store"
)

// NoRatesCauses are the probable causes attached to every NO_RATES finding.
var NoRatesCauses = []string{
	"Destination not included in any shipping zone",
	"Product weight missing or product not marked as physical",
	"Market not active or shipping disabled",
	"Mixed-profile cart without compatible merged rates",
	"Carrier outage or timeout",
}

// Diagnose inspects delivery options against a scenario's expectations.
// It has no side effects: the same input always yields the same findings in the same order.
func Diagnose(groups []store.DeliveryGroup, options []store.DeliveryOption, subtotal *store.Money, exp store.Expectations) []store.Finding {
	var findings []store.Finding
	findings = append(findings, noRates(groups, options)...)
	findings = append(findings, freeShipping(options, subtotal, exp)...)
	findings = append(findings, bounds(options, exp)...)
	return findings
}

func noRates(groups []store.DeliveryGroup, options []store.DeliveryOption) []store.Finding {
	empty := len(options) == 0
	for _, g := range groups {
		if len(g.DeliveryOptions) == 0 {
			empty = true
			break
		}
	}
	if !empty {
		return nil
	}
	return []store.Finding{{
		Code:           store.CodeNoRates,
		Message:        "No shipping options returned.",
		ProbableCauses: append([]string(nil), NoRatesCauses...),
	}}
}

func freeShipping(options []store.DeliveryOption, subtotal *store.Money, exp store.Expectations) []store.Finding {
	if exp.FreeShippingThreshold == nil || len(options) == 0 {
		return nil
	}
	threshold := *exp.FreeShippingThreshold

	var findings []store.Finding
	hasFree := false
	for _, o := range options {
		if o.EstimatedCost.Value() == 0 {
			hasFree = true
			break
		}
	}
	if !hasFree {
		findings = append(findings, store.Finding{
			Code:    store.CodeFreeShippingMissing,
			Message: "Expected free shipping >= " + formatNumber(threshold),
		})
	}

	if subtotal != nil {
		if subtotal.Value() < threshold {
			findings = append(findings, store.Finding{
				Code:    store.CodeSubtotalBelowThreshold,
				Message: fmt.Sprintf("Cart subtotal %s < threshold %s", subtotal.Amount, formatNumber(threshold)),
			})
		}
		if exp.Currency != "" && exp.Currency != subtotal.CurrencyCode {
			findings = append(findings, store.Finding{
				Code:    store.CodeCurrencyMismatch,
				Message: fmt.Sprintf("Scenario currency %s vs subtotal currency %s", exp.Currency, subtotal.CurrencyCode),
			})
		}
	}
	return findings
}

func bounds(options []store.DeliveryOption, exp store.Expectations) []store.Finding {
	if exp.Min == nil && exp.Max == nil {
		return nil
	}

	var findings []store.Finding
	target := exp.BoundsTarget
	if target == "" {
		target = store.BoundsCheapest
	}

	selected := options
	if target == store.BoundsTitle {
		needle := strings.ToLower(exp.BoundsTitle)
		selected = nil
		for _, o := range options {
			if strings.Contains(strings.ToLower(o.Title), needle) {
				selected = append(selected, o)
			}
		}
		if needle != "" && len(selected) == 0 {
			findings = append(findings, store.Finding{
				Code:    store.CodeTargetRateNotFound,
				Message: fmt.Sprintf("No rate with title containing %q", exp.BoundsTitle),
			})
		}
	}

	prices := make([]float64, 0, len(selected))
	for _, o := range selected {
		prices = append(prices, o.EstimatedCost.Value())
	}
	if target == store.BoundsCheapest && len(prices) > 0 {
		cheapest := prices[0]
		for _, p := range prices[1:] {
			cheapest = math.Min(cheapest, p)
		}
		prices = []float64{cheapest}
	}

	if exp.Min != nil && anyPrice(prices, func(p float64) bool { return p < *exp.Min }) {
		findings = append(findings, store.Finding{
			Code:    store.CodePriceTooLow,
			Message: "Target rate below " + formatNumber(*exp.Min),
		})
	}
	if exp.Max != nil && anyPrice(prices, func(p float64) bool { return p > *exp.Max }) {
		findings = append(findings, store.Finding{
			Code:    store.CodePriceTooHigh,
			Message: "Target rate above " + formatNumber(*exp.Max),
		})
	}
	return findings
}

func anyPrice(prices []float64, pred func(float64) bool) bool {
	for _, p := range prices {
		if pred(p) {
			return true
		}
	}
	return false
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
