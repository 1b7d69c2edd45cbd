package usecase

import (
	"context"

	"github.com/totegamma/pairdata/internal/domain"
	"github.com/totegamma/pairdata/policy"
)

// AssetRepository is the owning-resource collaborator. Save must write only opts.Fields.
type AssetRepository interface {
	Load(ctx context.Context, uid string) (domain.Asset, error)
	Save(ctx context.Context, asset domain.Asset, opts domain.SaveOptions) error
	LoadSchemaFields(ctx context.Context, uid string) ([]string, error)
	HasManageCapability(ctx context.Context, requester, uid string) (bool, error)
}

// AssetStore registers assets and capability grants.
type AssetStore interface {
	AssetRepository
	Create(ctx context.Context, asset domain.Asset) error
	GrantPermission(ctx context.Context, assetUID, user, codename string) error
}

// Authorizer validates a pairing request against the parent's sharing configuration.
type Authorizer interface {
	Authorize(ctx context.Context, req policy.Request) ([]string, error)
}

// LinkResolver renders the external locator of a pairing.
type LinkResolver interface {
	Resolve(pd domain.PairedData) string
}

// FingerprintStore keeps the fingerprint of each pairing, keyed by identifier.
type FingerprintStore interface {
	Get(ctx context.Context, identifier string) (string, bool, error)
	Add(ctx context.Context, identifier, digest string) (string, error)
	Set(ctx context.Context, identifier, digest string) error
	Delete(ctx context.Context, identifier string) error
}

// SignalPublisher broadcasts persisted pairing changes.
type SignalPublisher interface {
	PublishPairing(ctx context.Context, event domain.PairingEvent) error
}
