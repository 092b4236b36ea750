package diagnostics

import (
	"strings"

	"shipsanity/internal/store"
)

// informational findings never affect the verdict on their own.
// SUBTOTAL_BELOW_THRESHOLD only explains why free shipping has not kicked in yet.
var informational = map[store.FindingCode]bool{
	store.CodeAdminLinks:             true,
	store.CodeCartContext:            true,
	store.CodeSubtotalBelowThreshold: true,
}

// Verdict derives the run status from the delivery options and the findings gathered so far.
//
//   - no options at all: FAIL, whatever the expectations say.
//   - no findings: PASS.
//   - DiscountFreeShippingDowngrade applies: WARN.
//   - otherwise the scenario's alert level decides (WARN unless set to FAIL).
func Verdict(options []store.DeliveryOption, findings []store.Finding, discountCode string, level store.AlertLevel) store.RunStatus {
	if len(options) == 0 {
		return store.RunStatusFail
	}

	counted := countedCodes(findings)
	if len(counted) == 0 {
		return store.RunStatusPass
	}
	if DiscountFreeShippingDowngrade(counted, discountCode) {
		return store.RunStatusWarn
	}
	if level == store.AlertFail {
		return store.RunStatusFail
	}
	return store.RunStatusWarn
}

// DiscountFreeShippingDowngrade reports whether a scenario with a discount code
// whose only problem is FREE_SHIPPING_MISSING must be reported as WARN.
// Discount-based free shipping is applied at checkout, after the rate query,
// so the delivery options still carry a price.
// TOKEN_ROTATED is operational and does not block the downgrade.
func DiscountFreeShippingDowngrade(codes []store.FindingCode, discountCode string) bool {
	if strings.TrimSpace(discountCode) == "" {
		return false
	}
	sawFreeMissing := false
	for _, c := range codes {
		switch c {
		case store.CodeFreeShippingMissing:
			sawFreeMissing = true
		case store.CodeTokenRotated:
		default:
			return false
		}
	}
	return sawFreeMissing
}

func countedCodes(findings []store.Finding) []store.FindingCode {
	var codes []store.FindingCode
	for _, f := range findings {
		if informational[f.Code] {
			continue
		}
		codes = append(codes, f.Code)
	}
	return codes
}
