package diagnostics

import (
	"fmt"
	"strings"
	"time"

	"shipsanity/internal/store"
)

// AdminLinks returns best-effort deep links into the shop admin.
func AdminLinks(shop string) map[string]string {
	return map[string]string{
		"profiles":            fmt.Sprintf("https://%s/admin/settings/shipping/policies", shop),
		"shippingAndDelivery": fmt.Sprintf("https://%s/admin/settings/shipping", shop),
		"markets":             fmt.Sprintf("https://%s/admin/settings/markets", shop),
		"discounts":           fmt.Sprintf("https://%s/admin/discounts", shop),
	}
}

// AdminLinksFinding wraps AdminLinks in an ADMIN_LINKS finding.
func AdminLinksFinding(shop string) store.Finding {
	return store.Finding{Code: store.CodeAdminLinks, Links: AdminLinks(shop)}
}

func EmptyCart() store.Finding {
	return store.Finding{
		Code:    store.CodeEmptyCart,
		Message: "Scenario has no items. Add at least one physical product with weight > 0.",
	}
}

func TokenRotated() store.Finding {
	return store.Finding{Code: store.CodeTokenRotated, Message: "Storefront token was rotated due to 403"}
}

func Exception(err error) store.Finding {
	return store.Finding{Code: store.CodeException, Message: err.Error()}
}

func StorefrontTokenError(err error) store.Finding {
	return store.Finding{Code: store.CodeStorefrontTokenError, Message: err.Error()}
}

// JobFinalFailure is written by the worker when a job gave up before its run was recorded.
func JobFinalFailure(err error) store.Finding {
	return store.Finding{Code: store.CodeJobFinalFailure, Message: err.Error()}
}

func ShopLockTimeout(err error) store.Finding {
	return store.Finding{Code: store.CodeShopLockTimeout, Message: err.Error()}
}

// RunTimeout is written by the stale-run sweeps.
func RunTimeout(threshold time.Duration) store.Finding {
	return store.Finding{
		Code:    store.CodeRunTimeout,
		Message: fmt.Sprintf("Run stayed PENDING for more than %s", threshold),
	}
}

// Requirements are the address fields a country mandates.
type Requirements struct {
	ZipRequired      bool
	ProvinceRequired bool
}

// Enrichment is the context gathered after a run came back without delivery options.
// Nil lookups mean the lookup failed and contributes nothing.
type Enrichment struct {
	CountryCode       string
	MarketEnabled     *bool
	PreflightVariants []store.VariantSummary
	Variants          []store.VariantSummary
	Requirements      *Requirements
	Context           store.CartContext
}

// Enrich explains an empty delivery-options response from the lookups in e.
// The findings are hints, not authoritative causes.
func Enrich(e Enrichment) []store.Finding {
	var findings []store.Finding

	if len(e.PreflightVariants) == 0 && len(e.Variants) == 0 {
		findings = append(findings, store.Finding{
			Code:    store.CodeVariantsUnavailable,
			Message: "Selected variants are not visible to Storefront. Ensure products are published to the Online Store and IDs are valid.",
		})
	}
	if e.MarketEnabled != nil && !*e.MarketEnabled {
		findings = append(findings, store.Finding{
			Code:    store.CodeMarketDisabled,
			Message: strings.ToUpper(e.CountryCode) + " is not enabled in Shopify Markets",
		})
	}

	nonPhysical, zeroWeight := false, false
	for _, v := range e.Variants {
		if !v.RequiresShipping {
			nonPhysical = true
		} else if v.Grams == 0 {
			zeroWeight = true
		}
	}
	if nonPhysical {
		findings = append(findings, store.Finding{
			Code:    store.CodeNonPhysicalProduct,
			Message: "Cart contains non-shippable items (requiresShipping = false).",
		})
	}
	if zeroWeight {
		findings = append(findings, store.Finding{
			Code:    store.CodeWeightMissing,
			Message: "One or more shippable items have zero weight.",
		})
	}

	if r := e.Requirements; r != nil {
		if r.ProvinceRequired && e.Context.ProvinceCode == "" {
			findings = append(findings, store.Finding{
				Code:    store.CodeProvinceRequired,
				Message: "Province/state is required for this country but none was provided or resolved.",
			})
		}
		if r.ZipRequired && e.Context.PostalCode == "" {
			findings = append(findings, store.Finding{
				Code:    store.CodePostalRequired,
				Message: "Postal/ZIP code is required for this country but none was provided.",
			})
		}
	}

	ctx := e.Context
	ctx.Variants = e.PreflightVariants
	if len(ctx.Variants) == 0 {
		ctx.Variants = e.Variants
	}
	if ctx.Variants == nil {
		ctx.Variants = []store.VariantSummary{}
	}
	findings = append(findings, store.Finding{Code: store.CodeCartContext, Context: &ctx})

	return findings
}
