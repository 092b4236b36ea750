// Package store contains the domain model and database layer for shipsanity.
package store

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrRunFinalized is returned when a terminal write targets a run that already left PENDING.
	ErrRunFinalized = errors.New("run already in a terminal state")
)

// Tenant is a merchant shop using the checker.
// All scenarios, runs and jobs are scoped by TenantID.
type Tenant struct {
	ID               uuid.UUID
	Domain           string
	AdminAccessToken string
	Settings         Settings
	CreatedAt        time.Time
}

// Settings holds per-tenant scheduling and integration settings.
type Settings struct {
	DailyRunHourUTC       *int
	PromoMode             bool
	StorefrontAccessToken string
	StorefrontAPIVersion  string
	SlackWebhookURL       string
	NotificationEmail     string
}

// RunsAt reports whether the tenant's scenarios are due in the given UTC hour.
func (s Settings) RunsAt(hour int) bool {
	if s.PromoMode {
		return true
	}
	return s.DailyRunHourUTC != nil && *s.DailyRunHourUTC == hour
}

// Destination is the shipping address a scenario probes.
type Destination struct {
	CountryCode  string `json:"countryCode" validate:"required,len=2"`
	PostalCode   string `json:"postalCode,omitempty"`
	ProvinceCode string `json:"provinceCode,omitempty"`
	City         string `json:"city,omitempty"`
	District     string `json:"district,omitempty"`
	Address1     string `json:"address1,omitempty"`
	Address2     string `json:"address2,omitempty"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	Company      string `json:"company,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

// CartLine is one (variant, quantity) pair of a scenario cart.
type CartLine struct {
	VariantID string `json:"merchandiseId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

// BoundsTarget selects which delivery options price bounds apply to.
type BoundsTarget string

const (
	BoundsCheapest BoundsTarget = "CHEAPEST"
	BoundsTitle    BoundsTarget = "TITLE"
)

// Expectations are the pass/fail rules a scenario asserts on delivery options.
type Expectations struct {
	FreeShippingThreshold *float64     `json:"freeShippingThreshold,omitempty"`
	Currency              string       `json:"currency,omitempty"`
	Min                   *float64     `json:"min,omitempty"`
	Max                   *float64     `json:"max,omitempty"`
	BoundsTarget          BoundsTarget `json:"boundsTarget,omitempty" validate:"omitempty,oneof=CHEAPEST TITLE"`
	BoundsTitle           string       `json:"boundsTitle,omitempty"`
}

// AlertLevel is the verdict a scenario escalates findings to.
type AlertLevel string

const (
	AlertWarn AlertLevel = "WARN"
	AlertFail AlertLevel = "FAIL"
)

// Scenario is a saved shipping-rate test case.
type Scenario struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	Name              string
	Active            bool
	IncludeInPromo    bool
	Destination       Destination
	Lines             []CartLine  `validate:"dive"`
	DiscountCode      string
	Expectations      Expectations
	AlertLevel        AlertLevel `validate:"omitempty,oneof=WARN FAIL"`
	ScreenshotEnabled bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RunStatus represents the state of a run.
type RunStatus string

const (
	RunStatusPending RunStatus = "PENDING"
	RunStatusPass    RunStatus = "PASS"
	RunStatusWarn    RunStatus = "WARN"
	RunStatusFail    RunStatus = "FAIL"
	RunStatusError   RunStatus = "ERROR"
	RunStatusBlocked RunStatus = "BLOCKED"
)

// IsTerminal reports whether the status is final.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusPass, RunStatusWarn, RunStatusFail, RunStatusError, RunStatusBlocked:
		return true
	}
	return false
}

// Money is an amount as returned by the storefront API.
type Money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

// Value parses the amount. Unparseable amounts yield NaN so that every comparison fails.
func (m Money) Value() float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(m.Amount), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// DeliveryOption is a named shipping choice with an estimated cost.
type DeliveryOption struct {
	Handle        string `json:"handle"`
	Title         string `json:"title"`
	EstimatedCost Money  `json:"estimatedCost"`
}

// DeliveryGroup is a set of cart lines shipped together.
type DeliveryGroup struct {
	ID              string           `json:"id"`
	DeliveryOptions []DeliveryOption `json:"deliveryOptions"`
}

// RunResult is the structured result payload of a run.
type RunResult struct {
	Groups      []DeliveryGroup  `json:"groups"`
	Options     []DeliveryOption `json:"options"`
	Subtotal    *Money           `json:"subtotal"`
	CheckoutURL string           `json:"checkoutUrl,omitempty"`
}

// FindingCode identifies a diagnostic finding.
type FindingCode string

const (
	CodeNoRates                FindingCode = "NO_RATES"
	CodeFreeShippingMissing    FindingCode = "FREE_SHIPPING_MISSING"
	CodeSubtotalBelowThreshold FindingCode = "SUBTOTAL_BELOW_THRESHOLD"
	CodeCurrencyMismatch       FindingCode = "CURRENCY_MISMATCH"
	CodeTargetRateNotFound     FindingCode = "TARGET_RATE_NOT_FOUND"
	CodePriceTooLow            FindingCode = "PRICE_TOO_LOW"
	CodePriceTooHigh           FindingCode = "PRICE_TOO_HIGH"
	CodeVariantsUnavailable    FindingCode = "VARIANTS_UNAVAILABLE"
	CodeMarketDisabled         FindingCode = "MARKET_DISABLED"
	CodeNonPhysicalProduct     FindingCode = "NON_PHYSICAL_PRODUCT"
	CodeWeightMissing          FindingCode = "WEIGHT_MISSING"
	CodeProvinceRequired       FindingCode = "PROVINCE_REQUIRED"
	CodePostalRequired         FindingCode = "POSTAL_REQUIRED"
	CodeCartContext            FindingCode = "CART_CONTEXT"
	CodeAdminLinks             FindingCode = "ADMIN_LINKS"
	CodeTokenRotated           FindingCode = "TOKEN_ROTATED"
	CodeScreenshotSkipped      FindingCode = "SCREENSHOT_SKIPPED"
	CodeScreenshotError        FindingCode = "SCREENSHOT_ERROR"
	CodeEmptyCart              FindingCode = "EMPTY_CART"
	CodeException              FindingCode = "EXCEPTION"
	CodeStorefrontTokenError   FindingCode = "STOREFRONT_TOKEN_ERROR"
	CodeJobFinalFailure        FindingCode = "JOB_FINAL_FAILURE"
	CodeShopLockTimeout        FindingCode = "SHOP_LOCK_TIMEOUT"
	CodeRunTimeout             FindingCode = "RUN_TIMEOUT"
)

// Finding is a typed diagnostic attached to a run.
type Finding struct {
	Code           FindingCode       `json:"code"`
	Message        string            `json:"message,omitempty"`
	ProbableCauses []string          `json:"probableCauses,omitempty"`
	Links          map[string]string `json:"links,omitempty"`
	Context        *CartContext      `json:"context,omitempty"`
}

// CartContext captures what the runner sent, to compare against checkout.
type CartContext struct {
	CountryCode  string           `json:"countryCode"`
	PostalCode   string           `json:"postalCode,omitempty"`
	ProvinceCode string           `json:"provinceCode,omitempty"`
	City         string           `json:"city,omitempty"`
	Address1     string           `json:"address1"`
	LinesCount   int              `json:"linesCount"`
	Variants     []VariantSummary `json:"variants"`
}

// VariantSummary is the shipping-relevant view of a product variant.
type VariantSummary struct {
	ID               string `json:"id"`
	RequiresShipping bool   `json:"requiresShipping"`
	Grams            int    `json:"grams"`
}

// Run is one execution record of a scenario.
type Run struct {
	ID             uuid.UUID
	ScenarioID     uuid.UUID
	TenantID       uuid.UUID
	Status         RunStatus
	StartedAt      time.Time
	FinishedAt     *time.Time
	Result         *RunResult
	Diagnostics    []Finding
	ScreenshotURL  *string
	AcknowledgedAt *time.Time
	CreatedAt      time.Time
}

// RunSummary is a run joined with its scenario name, used for digests.
type RunSummary struct {
	RunID        uuid.UUID
	ScenarioID   uuid.UUID
	ScenarioName string
	Status       RunStatus
	StartedAt    time.Time
}

// JobKind is one of the two kinds of queued work.
type JobKind string

const (
	JobKindScenarioRun JobKind = "SCENARIO_RUN"
	JobKindDigestEmail JobKind = "DIGEST_EMAIL"
)

// JobState represents the state of a job in the queue.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// BackoffKind selects how retry delays grow.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

// BackoffPolicy is the retry delay policy of a job.
type BackoffPolicy struct {
	Kind  BackoffKind
	Delay time.Duration
}

// Next returns the delay before the retry that follows the given failed attempt (1-based).
func (p BackoffPolicy) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Kind == BackoffExponential {
		return p.Delay * time.Duration(1<<(attempt-1))
	}
	return p.Delay
}

// Job is a unit of queued work.
type Job struct {
	ID           uuid.UUID
	Kind         JobKind
	TenantID     uuid.UUID
	Payload      json.RawMessage
	State        JobState
	Attempt      int
	MaxAttempts  int
	Backoff      BackoffPolicy
	VisibleAfter time.Time
	LastError    string
	CreatedAt    time.Time
	FinishedAt   *time.Time
}

// JobCounts is the queue introspection snapshot.
type JobCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}
