package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/isdelr/storefront-be/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
)

// useFakeStripe points the Stripe API backend at handler for the duration of
// the test.
func useFakeStripe(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	stripe.SetBackend(stripe.APIBackend, backend)
	t.Cleanup(func() { stripe.SetBackend(stripe.APIBackend, nil) })
}

func TestCreateCustomer_Success(t *testing.T) {
	var gotName, gotEmail string
	useFakeStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/customers", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		gotName, gotEmail = r.PostForm.Get("name"), r.PostForm.Get("email")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cus_test123","object":"customer"}`))
	})

	c := NewStripeClient("sk_test_dummy", CheckoutOptions{})
	id, err := c.CreateCustomer(context.Background(), "Ada Lovelace", "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, "cus_test123", id)
	require.Equal(t, "Ada Lovelace", gotName)
	require.Equal(t, "ada@example.com", gotEmail)
}

func TestCreateCustomer_ProviderError(t *testing.T) {
	useFakeStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad email"}}`))
	})

	c := NewStripeClient("sk_test_dummy", CheckoutOptions{})
	_, err := c.CreateCustomer(context.Background(), "A B", "a@b.c")
	require.ErrorIs(t, err, common.ErrPaymentProvider)
}

func TestBuildCheckoutParams(t *testing.T) {
	opts := CheckoutOptions{
		FrontendURL:       "https://shop.example/",
		ShippingCountries: []string{"US", "GB"},
		ShippingRates:     []string{"shr_a", "shr_b"},
	}
	items := []CartItem{{Slug: "mug", Quantity: 2}, {Slug: "tee", Quantity: 0}}
	prices := map[string]string{"mug": "price_mug", "tee": "price_tee"}

	params, err := buildCheckoutParams(opts, items, prices)
	require.NoError(t, err)

	require.Equal(t, "payment", *params.Mode)
	require.Equal(t, "pay", *params.SubmitType)
	require.Equal(t, "https://shop.example/success", *params.SuccessURL)
	require.Equal(t, "https://shop.example/", *params.CancelURL)
	require.True(t, *params.AllowPromotionCodes)
	require.Len(t, params.ShippingAddressCollection.AllowedCountries, 2)
	require.Len(t, params.ShippingOptions, 2)
	require.Equal(t, "shr_b", *params.ShippingOptions[1].ShippingRate)

	require.Len(t, params.LineItems, 2)
	require.Equal(t, "price_mug", *params.LineItems[0].Price)
	require.EqualValues(t, 2, *params.LineItems[0].Quantity)
	require.EqualValues(t, 1, *params.LineItems[1].Quantity)
	require.True(t, *params.LineItems[1].AdjustableQuantity.Enabled)
	require.EqualValues(t, 1, *params.LineItems[1].AdjustableQuantity.Minimum)
}

func TestBuildCheckoutParams_UnknownProduct(t *testing.T) {
	_, err := buildCheckoutParams(CheckoutOptions{}, []CartItem{{Slug: "ghost", Quantity: 1}}, map[string]string{})
	require.ErrorIs(t, err, ErrUnknownProduct)

	_, err = buildCheckoutParams(CheckoutOptions{}, nil, nil)
	require.ErrorIs(t, err, ErrUnknownProduct)
}

func TestProviderError_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	err := providerError(ctx, "create customer", errors.New("request canceled"))
	require.ErrorIs(t, err, common.ErrTimeout)

	err = providerError(context.Background(), "create customer", errors.New("boom"))
	require.ErrorIs(t, err, common.ErrPaymentProvider)
}

func TestCreateCheckoutSession_ChunksLookupKeys(t *testing.T) {
	var (
		mu        sync.Mutex
		batches   []int
		lineItems int
		requested = map[string]int{}
	)
	useFakeStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/prices":
			var keys []string
			for k, v := range r.URL.Query() {
				if strings.HasPrefix(k, "lookup_keys") {
					keys = append(keys, v...)
				}
			}
			data := make([]map[string]string, 0, len(keys))
			mu.Lock()
			batches = append(batches, len(keys))
			for _, key := range keys {
				requested[key]++
				data = append(data, map[string]string{"id": "price_" + key, "object": "price", "lookup_key": key})
			}
			mu.Unlock()
			assert.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
				"object": "list", "url": "/v1/prices", "has_more": false, "data": data,
			}))
		case "/v1/checkout/sessions":
			assert.NoError(t, r.ParseForm())
			mu.Lock()
			for k := range r.PostForm {
				if strings.HasSuffix(k, "[price]") {
					lineItems++
				}
			}
			mu.Unlock()
			_, _ = w.Write([]byte(`{"id":"cs_test","object":"checkout.session","url":"https://checkout.stripe.test/cs_test"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	var items []CartItem
	for i := 0; i < 11; i++ {
		items = append(items, CartItem{Slug: fmt.Sprintf("p%d", i), Quantity: 1})
	}
	items = append(items, CartItem{Slug: "p0", Quantity: 2})

	c := NewStripeClient("sk_test_dummy", CheckoutOptions{FrontendURL: "https://shop.example/"})
	url, err := c.CreateCheckoutSession(context.Background(), items)
	require.NoError(t, err)
	require.Equal(t, "https://checkout.stripe.test/cs_test", url)

	require.Len(t, batches, 2)
	for _, n := range batches {
		require.LessOrEqual(t, n, maxLookupKeys)
	}
	require.Len(t, requested, 11)
	for key, n := range requested {
		require.Equal(t, 1, n, "slug %s looked up more than once", key)
	}
	require.Equal(t, 12, lineItems)
}
