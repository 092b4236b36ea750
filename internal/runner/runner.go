// Package runner executes a single scenario against a shop's storefront and records the verdict.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shipsanity/internal/capture"
	"shipsanity/internal/credentials"
	"shipsanity/internal/diagnostics"
	"shipsanity/internal/geo"
	"shipsanity/internal/logger"
	"shipsanity/internal/shopify"
	"shipsanity/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

var validate = validator.New()

// Store is the persistence a run needs.
type Store interface {
	GetScenario(ctx context.Context, id uuid.UUID) (*store.Scenario, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*store.Tenant, error)
	GetRun(ctx context.Context, id uuid.UUID) (*store.Run, error)
	CreateRun(ctx context.Context, tx store.DBTransaction, run *store.Run) error
	CompleteRun(ctx context.Context, id uuid.UUID, status store.RunStatus, result *store.RunResult, findings []store.Finding, screenshotURL *string) error
}

// Credentials supplies storefront tokens.
type Credentials interface {
	Ensure(ctx context.Context, tenant *store.Tenant) (credentials.Credential, error)
	Rotate(ctx context.Context, tenant *store.Tenant) (credentials.Credential, error)
}

// AddressLookup resolves a city and province from a postal code.
type AddressLookup interface {
	CityProvince(ctx context.Context, countryCode, postalCode string) geo.Result
}

// Capturer screenshots a checkout page and returns the image URL.
type Capturer interface {
	Capture(ctx context.Context, tenantID, runID uuid.UUID, checkoutURL string) (string, error)
}

// Config tunes a runner.
type Config struct {
	CaptureMode capture.Mode
	// DeliveryRetries re-queries empty delivery options; carriers may answer
	// shortly after the buyer identity is set. Zero means the default,
	// negative disables retries.
	DeliveryRetries    int
	DeliveryRetryDelay time.Duration
}

const (
	defaultDeliveryRetries = 2
	// completeTimeout bounds the terminal write, which must outlive the run's own deadline.
	completeTimeout = 30 * time.Second
)

// Runner executes scenarios.
type Runner struct {
	store       Store
	clients     Clients
	credentials Credentials
	lookup      AddressLookup
	capturer    Capturer
	config      Config
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error

	completed metric.Int64Counter
}

// New creates a runner. lookup and capturer may be nil.
func New(st Store, clients Clients, creds Credentials, lookup AddressLookup, capturer Capturer, config Config, log *slog.Logger) *Runner {
	if config.CaptureMode == "" {
		config.CaptureMode = capture.ModeWarnFailOnly
	}
	switch {
	case config.DeliveryRetries == 0:
		config.DeliveryRetries = defaultDeliveryRetries
	case config.DeliveryRetries < 0:
		config.DeliveryRetries = 0
	}
	if config.DeliveryRetryDelay <= 0 {
		config.DeliveryRetryDelay = 400 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}

	completed, err := otel.Meter("shipsanity/runner").Int64Counter(
		"shipsanity.runs.completed",
		metric.WithDescription("Runs that reached a terminal status"),
	)
	if err != nil {
		log.Warn("failed to create runs counter", "error", err)
	}

	return &Runner{
		store:       st,
		clients:     clients,
		credentials: creds,
		lookup:      lookup,
		capturer:    capturer,
		config:      config,
		logger:      log,
		sleep:       sleepCtx,
		completed:   completed,
	}
}

// Run executes the scenario and writes the terminal run record.
// A nil runID creates a new run; a run already in a terminal state is returned unchanged.
// Errors are returned only when no run could be recorded.
func (r *Runner) Run(ctx context.Context, scenarioID, runID uuid.UUID) (*store.Run, error) {
	ctx, span := otel.Tracer("shipsanity/runner").Start(ctx, "run_scenario")
	defer span.End()
	span.SetAttributes(attribute.String("scenario.id", scenarioID.String()))

	scenario, err := r.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("load scenario %s: %w", scenarioID, err)
	}
	tenant, err := r.store.GetTenant(ctx, scenario.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", scenario.TenantID, err)
	}

	run, err := r.ensureRun(ctx, scenario, runID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("run.id", run.ID.String()), attribute.String("tenant.id", tenant.ID.String()))
	if run.Status.IsTerminal() {
		return run, nil
	}

	ctx = logger.WithRunID(logger.WithTenantID(ctx, tenant.ID.String()), run.ID.String())
	log := logger.FromContext(ctx, r.logger)

	var o *outcome
	if len(scenario.Lines) == 0 {
		o = &outcome{
			status:   store.RunStatusFail,
			result:   &store.RunResult{Groups: []store.DeliveryGroup{}, Options: []store.DeliveryOption{}},
			findings: []store.Finding{diagnostics.EmptyCart(), diagnostics.AdminLinksFinding(tenant.Domain)},
		}
	} else if o, err = r.execute(ctx, tenant, scenario, run.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o = failure(err)
	}

	log.Info("run finished", "scenario_id", scenario.ID, "status", o.status, "findings", len(o.findings))
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancel()
	if err := r.store.CompleteRun(ctx, run.ID, o.status, o.result, o.findings, o.screenshotURL); err != nil {
		if !errors.Is(err, store.ErrRunFinalized) {
			return nil, fmt.Errorf("complete run %s: %w", run.ID, err)
		}
		log.Warn("run was finalized concurrently", "status", o.status)
	} else if r.completed != nil {
		r.completed.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(o.status))))
	}

	return r.store.GetRun(ctx, run.ID)
}

func (r *Runner) ensureRun(ctx context.Context, scenario *store.Scenario, runID uuid.UUID) (*store.Run, error) {
	if runID != uuid.Nil {
		run, err := r.store.GetRun(ctx, runID)
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load run %s: %w", runID, err)
		}
	}

	run := &store.Run{ID: runID, ScenarioID: scenario.ID, TenantID: scenario.TenantID}
	if err := r.store.CreateRun(ctx, nil, run); err != nil {
		return nil, err
	}
	return run, nil
}

type outcome struct {
	status        store.RunStatus
	result        *store.RunResult
	findings      []store.Finding
	screenshotURL *string
}

// failure converts an unexpected error into the terminal outcome of a run.
func failure(err error) *outcome {
	if errors.Is(err, credentials.ErrCredential) || errors.Is(err, shopify.ErrNoAdminSession) {
		return &outcome{status: store.RunStatusBlocked, findings: []store.Finding{diagnostics.StorefrontTokenError(err)}}
	}
	return &outcome{status: store.RunStatusError, findings: []store.Finding{diagnostics.Exception(err)}}
}

// address is the resolved delivery address of a run.
type address struct {
	city     string
	province string
	address1 string
}

func (r *Runner) execute(ctx context.Context, tenant *store.Tenant, scenario *store.Scenario, runID uuid.UUID) (*outcome, error) {
	if err := validate.Struct(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	log := logger.FromContext(ctx, r.logger)
	dest := scenario.Destination

	cred, err := r.credentials.Ensure(ctx, tenant)
	if err != nil {
		return nil, err
	}
	sf := r.clients.Storefront(tenant, cred)

	admin, err := r.clients.Admin(tenant)
	if err != nil {
		log.Warn("admin lookups unavailable", "error", err)
		admin = nil
	}

	variantIDs := make([]string, len(scenario.Lines))
	for i, l := range scenario.Lines {
		variantIDs[i] = l.VariantID
	}
	preflight := r.variantSummaries(ctx, sf, variantIDs)

	cartID, err := sf.CartCreate(ctx, scenario.Lines, dest.CountryCode)
	if err != nil {
		return nil, err
	}

	addr := r.resolveAddress(ctx, admin, dest)
	delivery := shopify.DeliveryAddress{
		Country:   dest.CountryCode,
		Zip:       dest.PostalCode,
		Province:  firstNonEmpty(addr.province, addr.city),
		City:      addr.city,
		Address1:  addr.address1,
		Address2:  dest.Address2,
		FirstName: dest.FirstName,
		LastName:  dest.LastName,
		Company:   dest.Company,
		Phone:     dest.Phone,
	}.WithContactDefaults()

	userErrs, err := sf.CartBuyerIdentityUpdate(ctx, cartID, dest.CountryCode, delivery)
	if err != nil {
		return nil, err
	}
	if len(userErrs) > 0 && shopify.MentionsContactFields(userErrs) {
		userErrs, err = sf.CartBuyerIdentityUpdate(ctx, cartID, dest.CountryCode, delivery.SyntheticContact())
		if err != nil {
			return nil, err
		}
	}
	if len(userErrs) > 0 {
		detail, _ := json.Marshal(userErrs)
		return nil, fmt.Errorf("buyer identity error: %s", detail)
	}

	if scenario.DiscountCode != "" {
		userErrs, err := sf.CartDiscountCodesUpdate(ctx, cartID, []string{scenario.DiscountCode})
		if err != nil {
			log.Warn("discount code update failed", "code", scenario.DiscountCode, "error", err)
		} else if len(userErrs) > 0 {
			log.Warn("discount code not applied", "code", scenario.DiscountCode, "user_errors", userErrs)
		}
	}

	rotated := false
	cart, err := sf.CartDeliveryOptions(ctx, cartID)
	if shopify.IsForbidden(err) {
		log.Warn("storefront token rejected, rotating")
		cred, err = r.credentials.Rotate(ctx, tenant)
		if err != nil {
			return nil, err
		}
		sf = r.clients.Storefront(tenant, cred)
		cart, err = sf.CartDeliveryOptions(ctx, cartID)
		if err != nil {
			return nil, fmt.Errorf("storefront query failed after rotation: %w", err)
		}
		rotated = true
	}
	if err != nil {
		return nil, err
	}

	for i := 0; i < r.config.DeliveryRetries && len(cart.Options()) == 0; i++ {
		if err := r.sleep(ctx, r.config.DeliveryRetryDelay); err != nil {
			return nil, err
		}
		again, err := sf.CartDeliveryOptions(ctx, cartID)
		if err != nil {
			log.Warn("delivery options retry failed", "attempt", i+1, "error", err)
			break
		}
		if len(again.Groups) > 0 {
			cart.Groups = again.Groups
		}
		if again.Subtotal != nil {
			cart.Subtotal = again.Subtotal
		}
		if cart.CheckoutURL == "" {
			cart.CheckoutURL = again.CheckoutURL
		}
	}

	options := cart.Options()
	findings := diagnostics.Diagnose(cart.Groups, options, cart.Subtotal, scenario.Expectations)
	if rotated {
		findings = append(findings, diagnostics.TokenRotated())
	}
	if len(options) == 0 {
		findings = append(findings, r.enrich(ctx, sf, admin, scenario, variantIDs, preflight, addr)...)
	}
	if len(findings) > 0 {
		findings = append(findings, diagnostics.AdminLinksFinding(tenant.Domain))
	}

	status := diagnostics.Verdict(options, findings, scenario.DiscountCode, scenario.AlertLevel)

	var screenshotURL *string
	if capture.ShouldCapture(r.config.CaptureMode, scenario.ScreenshotEnabled, status) {
		url, finding := r.screenshot(ctx, tenant.ID, runID, cart.CheckoutURL)
		if finding != nil {
			findings = append(findings, *finding)
		} else {
			screenshotURL = &url
		}
	}

	groups := cart.Groups
	if groups == nil {
		groups = []store.DeliveryGroup{}
	}
	if options == nil {
		options = []store.DeliveryOption{}
	}
	return &outcome{
		status: status,
		result: &store.RunResult{
			Groups:      groups,
			Options:     options,
			Subtotal:    cart.Subtotal,
			CheckoutURL: cart.CheckoutURL,
		},
		findings:      findings,
		screenshotURL: screenshotURL,
	}, nil
}

// resolveAddress fills in a missing city or province from the postal code and
// normalizes the province to a subdivision code.
func (r *Runner) resolveAddress(ctx context.Context, admin AdminAPI, dest store.Destination) address {
	addr := address{city: dest.City, province: dest.ProvinceCode, address1: address1For(dest)}

	if r.lookup != nil && dest.PostalCode != "" && (addr.city == "" || addr.province == "") {
		found := r.lookup.CityProvince(ctx, dest.CountryCode, dest.PostalCode)
		if addr.city == "" {
			addr.city = found.City
		}
		if addr.province == "" {
			addr.province = found.ProvinceCode
		}
	}

	if admin != nil && addr.province == "" && addr.city != "" {
		provinces, err := admin.Provinces(ctx, dest.CountryCode)
		if err != nil {
			logger.FromContext(ctx, r.logger).Debug("province lookup failed", "error", err)
		} else if code := matchProvince(provinces, addr.city); code != "" {
			addr.province = code
		}
	}
	return addr
}

// enrich runs the best-effort lookups explaining an empty rate response.
func (r *Runner) enrich(ctx context.Context, sf StorefrontAPI, admin AdminAPI, scenario *store.Scenario, variantIDs []string, preflight []store.VariantSummary, addr address) []store.Finding {
	log := logger.FromContext(ctx, r.logger)
	cc := scenario.Destination.CountryCode

	e := diagnostics.Enrichment{
		CountryCode:       cc,
		PreflightVariants: preflight,
		Context: store.CartContext{
			CountryCode:  cc,
			PostalCode:   scenario.Destination.PostalCode,
			ProvinceCode: addr.province,
			City:         addr.city,
			Address1:     addr.address1,
			LinesCount:   len(scenario.Lines),
		},
	}

	var g errgroup.Group
	g.Go(func() error {
		e.Variants = r.variantSummaries(ctx, sf, variantIDs)
		return nil
	})
	if admin != nil {
		g.Go(func() error {
			enabled, err := admin.MarketEnabled(ctx, cc)
			if err != nil {
				log.Debug("market lookup failed", "error", err)
				return nil
			}
			e.MarketEnabled = &enabled
			return nil
		})
		g.Go(func() error {
			req, err := admin.CountryRequirements(ctx, cc)
			if err != nil {
				log.Debug("country requirements lookup failed", "error", err)
				return nil
			}
			e.Requirements = &diagnostics.Requirements{ZipRequired: req.ZipRequired, ProvinceRequired: req.ProvinceRequired}
			return nil
		})
	}
	_ = g.Wait()

	return diagnostics.Enrich(e)
}

func (r *Runner) variantSummaries(ctx context.Context, sf StorefrontAPI, ids []string) []store.VariantSummary {
	infos, err := sf.Variants(ctx, ids)
	if err != nil {
		logger.FromContext(ctx, r.logger).Debug("variant lookup failed", "error", err)
		return nil
	}
	summaries := make([]store.VariantSummary, 0, len(infos))
	for _, v := range infos {
		summaries = append(summaries, v.Summary())
	}
	return summaries
}

func (r *Runner) screenshot(ctx context.Context, tenantID, runID uuid.UUID, checkoutURL string) (string, *store.Finding) {
	if checkoutURL == "" {
		return "", &store.Finding{Code: store.CodeScreenshotSkipped, Message: "checkoutUrl not available"}
	}
	if r.capturer == nil {
		return "", &store.Finding{Code: store.CodeScreenshotSkipped, Message: capture.ErrDisabled.Error()}
	}
	url, err := r.capturer.Capture(ctx, tenantID, runID, checkoutURL)
	if errors.Is(err, capture.ErrDisabled) {
		return "", &store.Finding{Code: store.CodeScreenshotSkipped, Message: err.Error()}
	}
	if err != nil {
		return "", &store.Finding{Code: store.CodeScreenshotError, Message: err.Error()}
	}
	return url, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
