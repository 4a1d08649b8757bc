package downloads

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "tishcommerce-downloads"

var signingMethod = jwt.SigningMethodHS256

// LinkClaims bind a download token to one payment and one product.
type LinkClaims struct {
	Reference string `json:"ref"`
	ProductID string `json:"pid"`
	jwt.RegisteredClaims
}

// Signer issues short-lived download tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("download signing secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("download link ttl must be positive")
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (s *Signer) Issue(reference, productID string) (string, error) {
	if reference == "" || productID == "" {
		return "", errors.New("reference and product id are required")
	}
	now := s.now()
	claims := LinkClaims{
		Reference: reference,
		ProductID: productID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing download token: %w", err)
	}
	return signed, nil
}

func (s *Signer) Parse(token string) (*LinkClaims, error) {
	claims := &LinkClaims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != signingMethod {
				return nil, fmt.Errorf("unexpected signing method %s", t.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.ProductID == "" {
		return nil, errors.New("download token has no product")
	}
	return claims, nil
}
