// Package payment wraps the Stripe API calls the storefront needs: creating
// a customer for every account and opening hosted checkout sessions.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/isdelr/storefront-be/internal/common"
	"github.com/stripe/stripe-go/v81"
	checkoutsession "github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/price"
)

// ErrUnknownProduct is returned when a checkout references a product slug
// that has no active price.
var ErrUnknownProduct = errors.New("unknown product")

// maxLookupKeys is the most lookup_keys Stripe accepts in one price list call.
const maxLookupKeys = 10

// CustomerCreator creates payment-provider customers.
type CustomerCreator interface {
	CreateCustomer(ctx context.Context, name, email string) (string, error)
}

// CheckoutCreator opens hosted checkout sessions.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, items []CartItem) (string, error)
}

// CartItem is one product line requested by the shopper.
type CartItem struct {
	Slug     string `json:"slug"`
	Quantity int64  `json:"quantity"`
}

// CheckoutOptions configures the hosted checkout page.
type CheckoutOptions struct {
	FrontendURL       string
	ShippingCountries []string
	ShippingRates     []string
}

// StripeClient implements CustomerCreator and CheckoutCreator.
type StripeClient struct {
	opts CheckoutOptions
}

// NewStripeClient creates a new Stripe client
func NewStripeClient(apiKey string, opts CheckoutOptions) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{opts: opts}
}

// CreateCustomer creates a Stripe customer and returns its id.
func (c *StripeClient) CreateCustomer(ctx context.Context, name, email string) (string, error) {
	params := &stripe.CustomerParams{
		Name:  stripe.String(name),
		Email: stripe.String(email),
	}
	params.Context = ctx

	cust, err := customer.New(params)
	if err != nil {
		return "", providerError(ctx, "create customer", err)
	}
	if cust.ID == "" {
		return "", fmt.Errorf("%w: create customer: empty customer id", common.ErrPaymentProvider)
	}
	return cust.ID, nil
}

// CreateCheckoutSession resolves each slug to its active Stripe price by
// lookup key and opens a payment session. Prices supplied by the client are
// never used.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, items []CartItem) (string, error) {
	priceIDs, err := c.lookupPrices(ctx, items)
	if err != nil {
		return "", err
	}
	params, err := buildCheckoutParams(c.opts, items, priceIDs)
	if err != nil {
		return "", err
	}
	params.Context = ctx

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", providerError(ctx, "create checkout session", err)
	}
	return sess.URL, nil
}

// lookupPrices resolves slugs to active price ids. Stripe caps lookup_keys
// per request, so distinct slugs are queried in chunks.
func (c *StripeClient) lookupPrices(ctx context.Context, items []CartItem) (map[string]string, error) {
	seen := make(map[string]bool, len(items))
	var slugs []string
	for _, item := range items {
		if !seen[item.Slug] {
			seen[item.Slug] = true
			slugs = append(slugs, item.Slug)
		}
	}

	priceIDs := make(map[string]string, len(slugs))
	for start := 0; start < len(slugs); start += maxLookupKeys {
		end := min(start+maxLookupKeys, len(slugs))

		params := &stripe.PriceListParams{
			Active:     stripe.Bool(true),
			LookupKeys: stripe.StringSlice(slugs[start:end]),
		}
		params.Context = ctx

		iter := price.List(params)
		for iter.Next() {
			p := iter.Price()
			priceIDs[p.LookupKey] = p.ID
		}
		if err := iter.Err(); err != nil {
			return nil, providerError(ctx, "list prices", err)
		}
	}
	return priceIDs, nil
}

func buildCheckoutParams(opts CheckoutOptions, items []CartItem, priceIDs map[string]string) (*stripe.CheckoutSessionParams, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty cart", ErrUnknownProduct)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:                stripe.String(string(stripe.CheckoutSessionModePayment)),
		SubmitType:          stripe.String(string(stripe.CheckoutSessionSubmitTypePay)),
		PaymentMethodTypes:  stripe.StringSlice([]string{"card"}),
		AllowPromotionCodes: stripe.Bool(true),
		SuccessURL:          stripe.String(opts.FrontendURL + "success"),
		CancelURL:           stripe.String(opts.FrontendURL),
	}
	if len(opts.ShippingCountries) > 0 {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(opts.ShippingCountries),
		}
	}
	for _, rate := range opts.ShippingRates {
		params.ShippingOptions = append(params.ShippingOptions, &stripe.CheckoutSessionShippingOptionParams{
			ShippingRate: stripe.String(rate),
		})
	}

	for _, item := range items {
		priceID, ok := priceIDs[item.Slug]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProduct, item.Slug)
		}
		quantity := item.Quantity
		if quantity < 1 {
			quantity = 1
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(quantity),
			AdjustableQuantity: &stripe.CheckoutSessionLineItemAdjustableQuantityParams{
				Enabled: stripe.Bool(true),
				Minimum: stripe.Int64(1),
			},
		})
	}
	return params, nil
}

// providerError classifies a failed Stripe call: a deadline hit becomes
// common.ErrTimeout, anything else common.ErrPaymentProvider.
func providerError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", common.ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", common.ErrPaymentProvider, op, err)
}
