package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tishcommerce-checkout/pkg/instance"
)

type ClaimState string

const (
	ClaimNone      ClaimState = ""
	ClaimHeld      ClaimState = "claimed"
	ClaimFulfilled ClaimState = "fulfilled"
)

const (
	claimScope          = "claim"
	defaultClaimTTL     = 10 * time.Minute
	defaultFulfilledTTL = 30 * 24 * time.Hour
)

var ErrClaimLost = errors.New("claim no longer owned")

// Claim is an exclusive right to fulfill one payment reference.
type Claim struct {
	Reference string
	owner     string
}

// Claims serialises fulfillment per payment reference across replicas.
// A claim expires after the claim TTL so a crashed worker does not block the reference forever.
type Claims struct {
	store        Store
	claimTTL     time.Duration
	fulfilledTTL time.Duration
	newOwner     func() string
}

func NewClaims(store Store, claimTTL, fulfilledTTL time.Duration) (*Claims, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	if fulfilledTTL <= 0 {
		fulfilledTTL = defaultFulfilledTTL
	}
	return &Claims{
		store:        store,
		claimTTL:     claimTTL,
		fulfilledTTL: fulfilledTTL,
		newOwner:     newOwner,
	}, nil
}

// newOwner tags a claim with the replica that took it.
func newOwner() string {
	return instance.GetID() + "/" + uuid.NewString()
}

// Claim tries to take the reference. On failure it returns the current holder's state.
func (c *Claims) Claim(ctx context.Context, reference string) (*Claim, ClaimState, error) {
	if reference == "" {
		return nil, ClaimNone, errors.New("payment reference is required")
	}
	owner := c.newOwner()
	ok, err := c.store.SetNX(ctx, c.key(reference), encodeClaim(ClaimHeld, owner), c.claimTTL)
	if err != nil {
		return nil, ClaimNone, fmt.Errorf("take claim: %w", err)
	}
	if ok {
		return &Claim{Reference: reference, owner: owner}, ClaimHeld, nil
	}
	state, err := c.State(ctx, reference)
	if err != nil {
		return nil, ClaimNone, err
	}
	if state == ClaimNone {
		// Expired between SetNX and Get; report as held so the caller does not double-fulfill.
		state = ClaimHeld
	}
	return nil, state, nil
}

// Complete records the reference as fulfilled for the fulfilled TTL.
// A claim that expired and was taken by another owner is left alone and ErrClaimLost returned.
func (c *Claims) Complete(ctx context.Context, claim *Claim) error {
	if claim == nil {
		return errors.New("claim is required")
	}
	value, found, err := c.store.Get(ctx, c.key(claim.Reference))
	if err != nil {
		return fmt.Errorf("read claim: %w", err)
	}
	if found {
		state, owner := decodeClaim(value)
		if state == ClaimFulfilled {
			return nil
		}
		if owner != claim.owner {
			return ErrClaimLost
		}
	}
	if err := c.store.Set(ctx, c.key(claim.Reference), encodeClaim(ClaimFulfilled, claim.owner), c.fulfilledTTL); err != nil {
		return fmt.Errorf("complete claim: %w", err)
	}
	return nil
}

// Release drops an unfinished claim, but only while the caller still owns it.
func (c *Claims) Release(ctx context.Context, claim *Claim) error {
	if claim == nil {
		return nil
	}
	value, found, err := c.store.Get(ctx, c.key(claim.Reference))
	if err != nil {
		return fmt.Errorf("read claim: %w", err)
	}
	if !found {
		return nil
	}
	state, owner := decodeClaim(value)
	if owner != claim.owner {
		return ErrClaimLost
	}
	if state == ClaimFulfilled {
		return nil
	}
	return c.store.Del(ctx, c.key(claim.Reference))
}

// State reports the current claim state of a reference.
func (c *Claims) State(ctx context.Context, reference string) (ClaimState, error) {
	value, found, err := c.store.Get(ctx, c.key(reference))
	if err != nil {
		return ClaimNone, fmt.Errorf("read claim: %w", err)
	}
	if !found {
		return ClaimNone, nil
	}
	state, _ := decodeClaim(value)
	return state, nil
}

func (c *Claims) key(reference string) string {
	return claimScope + ":" + reference
}

func encodeClaim(state ClaimState, owner string) string {
	return string(state) + ":" + owner
}

func decodeClaim(value string) (ClaimState, string) {
	state, owner, _ := strings.Cut(value, ":")
	switch ClaimState(state) {
	case ClaimHeld, ClaimFulfilled:
		return ClaimState(state), owner
	default:
		return ClaimHeld, owner
	}
}
