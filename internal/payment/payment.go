// Package payment sells time packages through Stripe Checkout.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	stripe "github.com/stripe/stripe-go/v82"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/dukerupert/hotspot/internal/model"
)

var (
	ErrNotConfigured  = errors.New("payments are not configured")
	ErrUnknownPackage = errors.New("unknown time package")
)

// Package is a purchasable block of minutes.
type Package struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Minutes     int    `json:"minutes"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

func DefaultPackages() []Package {
	return []Package{
		{ID: "hour", Name: "1 hour", Minutes: 60, AmountCents: 200, Currency: "usd"},
		{ID: "day", Name: "24 hours", Minutes: 24 * 60, AmountCents: 800, Currency: "usd"},
		{ID: "week", Name: "7 days", Minutes: 7 * 24 * 60, AmountCents: 2500, Currency: "usd"},
	}
}

type Config struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
	Packages   []Package
}

// sessions is the part of the Stripe checkout API the client needs.
type sessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeSessions struct{}

func (stripeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return checksession.New(params)
}

func (stripeSessions) Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return checksession.Get(id, params)
}

type Client struct {
	cfg      Config
	api      sessions
	packages map[string]Package
	logger   *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.SecretKey != "" {
		stripe.Key = cfg.SecretKey
	}
	if len(cfg.Packages) == 0 {
		cfg.Packages = DefaultPackages()
	}
	return newClient(cfg, stripeSessions{}, logger)
}

func newClient(cfg Config, api sessions, logger *slog.Logger) *Client {
	pkgs := make(map[string]Package, len(cfg.Packages))
	for _, p := range cfg.Packages {
		pkgs[p.ID] = p
	}
	return &Client{cfg: cfg, api: api, packages: pkgs, logger: logger.With("component", "payment")}
}

// Configured returns true if the Stripe secret key is set.
func (c *Client) Configured() bool {
	return c.cfg.SecretKey != ""
}

func (c *Client) Packages() []Package {
	return c.cfg.Packages
}

func (c *Client) Package(id string) (Package, bool) {
	p, ok := c.packages[id]
	return p, ok
}

// Checkout creates a one-off Stripe Checkout session for the package and
// returns its hosted URL and id.
func (c *Client) Checkout(ctx context.Context, userID int64, packageID string) (url, id string, err error) {
	if !c.Configured() {
		return "", "", ErrNotConfigured
	}
	pkg, ok := c.Package(packageID)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownPackage, packageID)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(strconv.FormatInt(userID, 10)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(pkg.Currency),
					UnitAmount: stripe.Int64(pkg.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(pkg.Name + " of Wi-Fi"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata("package_id", pkg.ID)

	sess, err := c.api.New(params)
	if err != nil {
		return "", "", fmt.Errorf("create checkout session: %w", err)
	}
	c.logger.Info("checkout created", "user_id", userID, "package", pkg.ID, "checkout_id", sess.ID)
	return sess.URL, sess.ID, nil
}

// Confirm fetches a checkout session and returns the purchased package if it
// is paid and belongs to userID.
func (c *Client) Confirm(ctx context.Context, userID int64, checkoutID string) (Package, error) {
	if !c.Configured() {
		return Package{}, ErrNotConfigured
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := c.api.Get(checkoutID, params)
	if err != nil {
		return Package{}, fmt.Errorf("get checkout session: %w", err)
	}

	if sess.ClientReferenceID != strconv.FormatInt(userID, 10) {
		return Package{}, fmt.Errorf("%w: checkout belongs to another user", model.ErrForbidden)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return Package{}, fmt.Errorf("%w: status %s", model.ErrPaymentNotSettled, sess.PaymentStatus)
	}
	pkg, ok := c.Package(sess.Metadata["package_id"])
	if !ok {
		return Package{}, fmt.Errorf("%w: %q", ErrUnknownPackage, sess.Metadata["package_id"])
	}
	return pkg, nil
}
