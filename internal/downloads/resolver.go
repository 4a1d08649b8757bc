package downloads

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/angelmondragon/tishcommerce-checkout/internal/catalog"
	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/logger"
)

const (
	shippingProductID = "SHIPPING"
	redeemPath        = "/api/v1/downloads/redeem"
)

// Link is one downloadable product of a paid order.
type Link struct {
	ProductID    string `json:"productId"`
	ProductTitle string `json:"productTitle"`
	DownloadURL  string `json:"downloadURL"`
}

// ProductSource is the read side of the catalog.
type ProductSource interface {
	Product(id string) (catalog.Product, bool)
}

// Resolver maps purchased product ids to download links. URLs always come from the catalog,
// never from the processor record or client input.
type Resolver struct {
	products ProductSource
	signer   *Signer
	baseURL  string
	logg     *logger.Logger
}

// NewResolver builds a resolver. With a nil signer the catalog URL is returned as-is.
func NewResolver(products ProductSource, signer *Signer, publicBaseURL string, logg *logger.Logger) (*Resolver, error) {
	if products == nil {
		return nil, fmt.Errorf("product source required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Resolver{
		products: products,
		signer:   signer,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		logg:     logg,
	}, nil
}

// Resolve returns one link per distinct downloadable product, in purchase order.
// Shipping pseudo-lines, unknown products and products without a URL are skipped.
func (r *Resolver) Resolve(ctx context.Context, reference string, productIDs []string) []Link {
	seen := make(map[string]struct{}, len(productIDs))
	links := make([]Link, 0, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" || id == shippingProductID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		product, ok := r.products.Product(id)
		if !ok {
			r.logg.Warn(r.logg.WithField(ctx, "product_id", id), "purchased product missing from catalog")
			continue
		}
		if !product.Downloadable() {
			continue
		}

		href, err := r.href(reference, product)
		if err != nil {
			r.logg.Error(r.logg.WithField(ctx, "product_id", id), "issue download token", err)
			continue
		}
		links = append(links, Link{ProductID: product.ID, ProductTitle: product.Title, DownloadURL: href})
	}
	return links
}

func (r *Resolver) href(reference string, product catalog.Product) (string, error) {
	if r.signer == nil {
		return product.DownloadURL, nil
	}
	token, err := r.signer.Issue(reference, product.ID)
	if err != nil {
		return "", err
	}
	return r.baseURL + redeemPath + "?token=" + url.QueryEscape(token), nil
}

// Redeem validates a link token and returns the product's current catalog URL.
func (r *Resolver) Redeem(ctx context.Context, token string) (string, error) {
	if r.signer == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "signed download links are disabled")
	}
	claims, err := r.signer.Parse(token)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid or expired download link").WithReason("invalid_token")
	}
	product, ok := r.products.Product(claims.ProductID)
	if !ok || !product.Downloadable() {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "download no longer available")
	}
	ctx = r.logg.WithPaymentReference(ctx, claims.Reference)
	r.logg.Info(r.logg.WithField(ctx, "product_id", claims.ProductID), "download link redeemed")
	return product.DownloadURL, nil
}
