package usecase

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/pairdata/internal/domain"
	"github.com/totegamma/pairdata/uid"
)

// AssetUsecase registers survey assets and grants manage capability on them.
type AssetUsecase struct {
	repo     AssetStore
	logger   *slog.Logger
	generate func(prefix string) string
}

func NewAssetUsecase(repo AssetStore, logger *slog.Logger) *AssetUsecase {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssetUsecase{
		repo:     repo,
		logger:   logger.With(slog.String("component", "asset_usecase")),
		generate: uid.Generate,
	}
}

// Create stores a new asset owned by requester. A caller supplied UID must have the
// shape of a generated one, otherwise a fresh UID is allocated.
func (uc *AssetUsecase) Create(ctx context.Context, requester string, asset domain.Asset) (domain.Asset, error) {
	ctx, span := tracer.Start(ctx, "Asset.Usecase.Create")
	defer span.End()

	if asset.UID == "" {
		asset.UID = uc.generate(domain.AssetPrefix)
	} else if !uid.Valid(asset.UID, domain.AssetPrefix) {
		return domain.Asset{}, domain.RejectionError{Code: domain.CodeInvalidUID, Field: domain.AttrUID, Values: []string{asset.UID}}
	}
	span.SetAttributes(attribute.String("AssetUID", asset.UID))

	if asset.AssetType == "" {
		asset.AssetType = domain.AssetTypeSurvey
	}
	if asset.AssetType != domain.AssetTypeSurvey {
		return domain.Asset{}, domain.RejectionError{Code: domain.CodeInvalidContent, Field: domain.AttrContent, Values: []string{asset.AssetType}}
	}
	if _, err := domain.SurveyFieldNames(asset.Content); err != nil {
		return domain.Asset{}, domain.RejectionError{Code: domain.CodeInvalidContent, Field: domain.AttrContent}
	}

	asset.Owner = requester
	asset.DataSharing = domain.DataSharing{}
	asset.PairedData = domain.PairingCollection{}

	if err := uc.repo.Create(ctx, asset); err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrRejected) {
			return domain.Asset{}, err
		}
		return domain.Asset{}, domain.PersistenceError{Op: "create asset " + asset.UID, Err: err}
	}

	created, err := uc.repo.Load(ctx, asset.UID)
	if err != nil {
		span.RecordError(err)
		return domain.Asset{}, errors.Wrap(err, "AssetUsecase.Create: repo.Load failed")
	}

	uc.logger.Info("asset created",
		slog.String("asset", created.UID),
		slog.String("owner", created.Owner),
	)
	return created, nil
}

// GrantManage gives user the manage capability on an asset. Only the owner or an
// existing manager may grant it.
func (uc *AssetUsecase) GrantManage(ctx context.Context, assetUID, requester, user string) error {
	ctx, span := tracer.Start(ctx, "Asset.Usecase.GrantManage")
	defer span.End()

	user = strings.TrimSpace(user)
	if user == "" {
		return domain.RejectionError{Code: domain.CodeInvalidUser, Field: domain.AttrUser}
	}

	asset, err := uc.repo.Load(ctx, assetUID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if requester == "" || asset.Owner != requester {
		manager, err := uc.repo.HasManageCapability(ctx, requester, assetUID)
		if err != nil {
			span.RecordError(err)
			return errors.Wrap(err, "AssetUsecase.GrantManage: repo.HasManageCapability failed")
		}
		if !manager {
			return domain.RejectionError{Code: domain.CodePermissionDenied}
		}
	}

	if err := uc.repo.GrantPermission(ctx, assetUID, user, domain.ManageCapability); err != nil {
		span.RecordError(err)
		return domain.PersistenceError{Op: "grant manage on " + assetUID, Err: err}
	}

	uc.logger.Info("manage capability granted",
		slog.String("asset", assetUID),
		slog.String("user", user),
	)
	return nil
}
