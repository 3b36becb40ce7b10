package arkana

import (
	"context"

	"github.com/avilainc/arkana/internal/flows"
	internalmetrics "github.com/avilainc/arkana/internal/metrics"
)

// profileAdapter presents a public ProfileStore to the flows.
type profileAdapter struct {
	store ProfileStore
}

func toFlowProfile(p ProfileRecord) flows.Profile {
	return flows.Profile{
		ID:           p.ID,
		Email:        p.Email,
		FullName:     p.FullName,
		Verified:     p.EmailVerified,
		Active:       p.Active,
		CreatedAt:    p.CreatedAt,
		PasswordHash: p.PasswordHash,
	}
}

func toIdentity(p flows.Profile) Identity {
	return Identity{
		ID:            p.ID,
		Email:         p.Email,
		FullName:      p.FullName,
		EmailVerified: p.Verified,
		Active:        p.Active,
		CreatedAt:     p.CreatedAt,
	}
}

func (a profileAdapter) FindByEmail(ctx context.Context, email string) (flows.Profile, error) {
	p, err := a.store.FindByEmail(ctx, email)
	if err != nil {
		return flows.Profile{}, err
	}
	return toFlowProfile(p), nil
}

func (a profileAdapter) FindByID(ctx context.Context, id string) (flows.Profile, error) {
	p, err := a.store.FindByID(ctx, id)
	if err != nil {
		return flows.Profile{}, err
	}
	return toFlowProfile(p), nil
}

func (a profileAdapter) Create(ctx context.Context, in flows.NewProfile) (flows.Profile, error) {
	p, err := a.store.Create(ctx, NewProfile{
		Email:        in.Email,
		FullName:     in.FullName,
		PasswordHash: in.PasswordHash,
	})
	if err != nil {
		return flows.Profile{}, err
	}
	return toFlowProfile(p), nil
}

func (a profileAdapter) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return a.store.UpdatePasswordHash(ctx, id, hash)
}

func (a profileAdapter) SetVerified(ctx context.Context, id string) error {
	return a.store.SetEmailVerified(ctx, id)
}

// deliveryAdapter counts failed hand-offs.
type deliveryAdapter struct {
	next    Delivery
	metrics *internalmetrics.Metrics
}

func (d deliveryAdapter) SendVerificationLink(ctx context.Context, p flows.Profile, token string) error {
	err := d.next.SendVerificationLink(ctx, toIdentity(p), token)
	if err != nil {
		d.metrics.Inc(internalmetrics.DeliveryFailure)
	}
	return err
}

func (d deliveryAdapter) SendResetLink(ctx context.Context, p flows.Profile, token string) error {
	err := d.next.SendResetLink(ctx, toIdentity(p), token)
	if err != nil {
		d.metrics.Inc(internalmetrics.DeliveryFailure)
	}
	return err
}
