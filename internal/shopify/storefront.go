package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"

	"shipsanity/internal/ratelimit"
	"shipsanity/internal/store"
)

// ErrCartCreate is returned when cartCreate yields no cart id.
var ErrCartCreate = errors.New("cart creation failed")

// Storefront is a client for the Storefront GraphQL API.
type Storefront struct {
	*Client
}

// NewStorefront returns a storefront client for shop authenticated with a storefront access token.
func NewStorefront(shop, token, version string, opts ...Option) *Storefront {
	return &Storefront{newClient(ratelimit.Storefront, shop, token, "X-Shopify-Storefront-Access-Token", version, opts)}
}

const cartCreateMutation = `mutation CreateCart($lines: [CartLineInput!]!, $buyerIdentity: CartBuyerIdentityInput) {
  cartCreate(input: { lines: $lines, buyerIdentity: $buyerIdentity }) { cart { id } }
}`

// CartCreate creates a cart with the given lines for a buyer in countryCode and returns its id.
func (s *Storefront) CartCreate(ctx context.Context, lines []store.CartLine, countryCode string) (string, error) {
	var data struct {
		CartCreate struct {
			Cart *struct {
				ID string `json:"id"`
			} `json:"cart"`
		} `json:"cartCreate"`
	}
	vars := map[string]any{
		"lines":         lines,
		"buyerIdentity": map[string]any{"countryCode": countryCode},
	}
	if err := s.GraphQL(ctx, cartCreateMutation, vars, &data); err != nil {
		return "", err
	}
	if data.CartCreate.Cart == nil || data.CartCreate.Cart.ID == "" {
		return "", ErrCartCreate
	}
	return data.CartCreate.Cart.ID, nil
}

// DeliveryAddress is the storefront MailingAddressInput used as a delivery preference.
type DeliveryAddress struct {
	Country   string `json:"country"`
	Zip       string `json:"zip,omitempty"`
	Province  string `json:"province,omitempty"`
	City      string `json:"city,omitempty"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2,omitempty"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Company   string `json:"company"`
	Phone     string `json:"phone"`
}

const (
	DefaultFirstName = "Test"
	DefaultLastName  = "Runner"
	DefaultCompany   = "Sanity Checker"
	DefaultPhone     = "0000000000"
)

// WithContactDefaults fills empty contact fields with harmless synthetic values.
func (a DeliveryAddress) WithContactDefaults() DeliveryAddress {
	if a.FirstName == "" {
		a.FirstName = DefaultFirstName
	}
	if a.LastName == "" {
		a.LastName = DefaultLastName
	}
	if a.Company == "" {
		a.Company = DefaultCompany
	}
	if a.Phone == "" {
		a.Phone = DefaultPhone
	}
	return a
}

// SyntheticContact replaces every contact field with the synthetic defaults and drops address2.
func (a DeliveryAddress) SyntheticContact() DeliveryAddress {
	a.FirstName = DefaultFirstName
	a.LastName = DefaultLastName
	a.Company = DefaultCompany
	a.Phone = DefaultPhone
	a.Address2 = ""
	return a
}

// MentionsContactFields reports whether any user error concerns name or phone fields.
func MentionsContactFields(errs []UserError) bool {
	for _, e := range errs {
		path := strings.Join(e.Field, ".")
		if strings.Contains(path, "firstName") || strings.Contains(path, "lastName") || strings.Contains(path, "phone") {
			return true
		}
		msg := strings.ToLower(e.Message)
		if strings.Contains(msg, "first name") || strings.Contains(msg, "last name") || strings.Contains(msg, "phone") {
			return true
		}
	}
	return false
}

const buyerIdentityMutation = `mutation CartBuyerIdentityUpdate($cartId: ID!, $buyerIdentity: CartBuyerIdentityInput!) {
  cartBuyerIdentityUpdate(cartId: $cartId, buyerIdentity: $buyerIdentity) {
    cart { id }
    userErrors { field message }
  }
}`

// CartBuyerIdentityUpdate sets the buyer country and delivery address of a cart.
func (s *Storefront) CartBuyerIdentityUpdate(ctx context.Context, cartID, countryCode string, addr DeliveryAddress) ([]UserError, error) {
	var data struct {
		Update struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"cartBuyerIdentityUpdate"`
	}
	vars := map[string]any{
		"cartId": cartID,
		"buyerIdentity": map[string]any{
			"countryCode": countryCode,
			"deliveryAddressPreferences": []map[string]any{
				{"deliveryAddress": addr},
			},
		},
	}
	if err := s.GraphQL(ctx, buyerIdentityMutation, vars, &data); err != nil {
		return nil, err
	}
	return data.Update.UserErrors, nil
}

const discountCodesMutation = `mutation CartDiscountCodesUpdate($cartId: ID!, $codes: [String!]!) {
  cartDiscountCodesUpdate(cartId: $cartId, discountCodes: $codes) {
    userErrors { field message }
    cart { id }
  }
}`

// CartDiscountCodesUpdate applies discount codes to a cart.
func (s *Storefront) CartDiscountCodesUpdate(ctx context.Context, cartID string, codes []string) ([]UserError, error) {
	var data struct {
		Update struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"cartDiscountCodesUpdate"`
	}
	if err := s.GraphQL(ctx, discountCodesMutation, map[string]any{"cartId": cartID, "codes": codes}, &data); err != nil {
		return nil, err
	}
	return data.Update.UserErrors, nil
}

const deliveryOptionsQuery = `query CartDeliveryOptions($cartId: ID!) {
  cart(id: $cartId) {
    id
    checkoutUrl
    cost { subtotalAmount { amount currencyCode } }
    deliveryGroups(first: 10) { nodes { id deliveryOptions { handle title estimatedCost { amount currencyCode } } } }
  }
}`

// CartDelivery is the delivery-options view of a cart.
type CartDelivery struct {
	CheckoutURL string
	Subtotal    *store.Money
	Groups      []store.DeliveryGroup
}

// Options flattens the delivery options of every group.
func (d *CartDelivery) Options() []store.DeliveryOption {
	var options []store.DeliveryOption
	for _, g := range d.Groups {
		options = append(options, g.DeliveryOptions...)
	}
	return options
}

// deliveryGroups accepts a plain list, a connection with nodes, or a connection with edges.
type deliveryGroups []store.DeliveryGroup

func (g *deliveryGroups) UnmarshalJSON(b []byte) error {
	var list []store.DeliveryGroup
	if err := json.Unmarshal(b, &list); err == nil {
		*g = list
		return nil
	}

	var conn struct {
		Nodes []store.DeliveryGroup `json:"nodes"`
		Edges []struct {
			Node *store.DeliveryGroup `json:"node"`
		} `json:"edges"`
	}
	if err := json.Unmarshal(b, &conn); err != nil {
		return err
	}
	if conn.Nodes != nil {
		*g = conn.Nodes
		return nil
	}
	var groups []store.DeliveryGroup
	for _, e := range conn.Edges {
		if e.Node != nil {
			groups = append(groups, *e.Node)
		}
	}
	*g = groups
	return nil
}

// CartDeliveryOptions fetches the delivery groups, subtotal and checkout URL of a cart.
func (s *Storefront) CartDeliveryOptions(ctx context.Context, cartID string) (*CartDelivery, error) {
	var data struct {
		Cart *struct {
			CheckoutURL string `json:"checkoutUrl"`
			Cost        *struct {
				SubtotalAmount *store.Money `json:"subtotalAmount"`
			} `json:"cost"`
			DeliveryGroups deliveryGroups `json:"deliveryGroups"`
		} `json:"cart"`
	}
	if err := s.GraphQL(ctx, deliveryOptionsQuery, map[string]any{"cartId": cartID}, &data); err != nil {
		return nil, err
	}

	out := &CartDelivery{}
	if data.Cart == nil {
		return out, nil
	}
	out.CheckoutURL = data.Cart.CheckoutURL
	out.Groups = []store.DeliveryGroup(data.Cart.DeliveryGroups)
	if data.Cart.Cost != nil {
		out.Subtotal = data.Cart.Cost.SubtotalAmount
	}
	return out, nil
}

const variantsQuery = `query Variants($ids: [ID!]!) {
  nodes(ids: $ids) {
    ... on ProductVariant {
      id
      title
      requiresShipping
      weight
      weightUnit
      price { amount currencyCode }
      product { title }
    }
  }
}`

// VariantInfo is the shipping-relevant view of a product variant.
type VariantInfo struct {
	ID               string
	Title            string
	ProductTitle     string
	RequiresShipping bool
	Grams            int
	Price            *store.Money
}

// Summary returns the fields recorded in run diagnostics.
func (v VariantInfo) Summary() store.VariantSummary {
	return store.VariantSummary{ID: v.ID, RequiresShipping: v.RequiresShipping, Grams: v.Grams}
}

// ToGrams converts a weight in the given unit to whole grams.
func ToGrams(weight float64, unit string) int {
	factor := 1.0
	switch unit {
	case "KILOGRAMS":
		factor = 1000
	case "POUNDS":
		factor = 453.592
	case "OUNCES":
		factor = 28.3495
	}
	g := weight * factor
	if math.IsNaN(g) || math.IsInf(g, 0) {
		return 0
	}
	return int(math.Round(g))
}

// Variants resolves variant ids visible to the storefront. Unknown or unpublished ids are omitted.
func (s *Storefront) Variants(ctx context.Context, ids []string) ([]VariantInfo, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var data struct {
		Nodes []*struct {
			ID               string       `json:"id"`
			Title            string       `json:"title"`
			RequiresShipping bool         `json:"requiresShipping"`
			Weight           *float64     `json:"weight"`
			WeightUnit       string       `json:"weightUnit"`
			Price            *store.Money `json:"price"`
			Product          *struct {
				Title string `json:"title"`
			} `json:"product"`
		} `json:"nodes"`
	}
	if err := s.GraphQL(ctx, variantsQuery, map[string]any{"ids": ids}, &data); err != nil {
		return nil, err
	}

	var infos []VariantInfo
	for _, n := range data.Nodes {
		if n == nil || n.ID == "" {
			continue
		}
		info := VariantInfo{
			ID:               n.ID,
			Title:            n.Title,
			RequiresShipping: n.RequiresShipping,
			Price:            n.Price,
		}
		if n.Weight != nil {
			info.Grams = ToGrams(*n.Weight, n.WeightUnit)
		}
		if n.Product != nil {
			info.ProductTitle = n.Product.Title
		}
		infos = append(infos, info)
	}
	return infos, nil
}
