package usecase

import (
	"context"
	"log/slog"
	"slices"

	"github.com/pkg/errors"

	"github.com/totegamma/pairdata/internal/domain"
	"github.com/totegamma/pairdata/policy"
)

// SharingUsecase manages the data sharing configuration of parent assets.
type SharingUsecase struct {
	repo   AssetRepository
	logger *slog.Logger
}

func NewSharingUsecase(repo AssetRepository, logger *slog.Logger) *SharingUsecase {
	if logger == nil {
		logger = slog.Default()
	}
	return &SharingUsecase{
		repo:   repo,
		logger: logger.With(slog.String("component", "sharing_usecase")),
	}
}

func (uc *SharingUsecase) Get(ctx context.Context, assetUID string) (domain.DataSharing, error) {
	ctx, span := tracer.Start(ctx, "Sharing.Usecase.Get")
	defer span.End()

	asset, err := uc.repo.Load(ctx, assetUID)
	if err != nil {
		span.RecordError(err)
		return domain.DataSharing{}, err
	}
	return normalizeSharing(asset.DataSharing), nil
}

// Update merges changes onto the stored sharing configuration. Only the owner or a manager
// may change it, and newly restricted fields must exist in the asset's schema.
func (uc *SharingUsecase) Update(ctx context.Context, assetUID, requester string, changes domain.SharingChanges) (domain.DataSharing, error) {
	ctx, span := tracer.Start(ctx, "Sharing.Usecase.Update")
	defer span.End()

	asset, err := uc.repo.Load(ctx, assetUID)
	if err != nil {
		span.RecordError(err)
		return domain.DataSharing{}, err
	}

	if requester == "" || asset.Owner != requester {
		manager, err := uc.repo.HasManageCapability(ctx, requester, assetUID)
		if err != nil {
			span.RecordError(err)
			return domain.DataSharing{}, errors.Wrap(err, "SharingUsecase.Update: repo.HasManageCapability failed")
		}
		if !manager {
			return domain.DataSharing{}, domain.RejectionError{Code: domain.CodePermissionDenied}
		}
	}

	sharing := normalizeSharing(changes.Apply(asset.DataSharing))
	if changes.Fields != nil && len(sharing.Fields) > 0 {
		schema, err := uc.repo.LoadSchemaFields(ctx, assetUID)
		if err != nil {
			span.RecordError(err)
			return domain.DataSharing{}, errors.Wrap(err, "SharingUsecase.Update: repo.LoadSchemaFields failed")
		}
		sharing.Fields, err = policy.ResolveFields(schema, sharing.Fields)
		if err != nil {
			return domain.DataSharing{}, err
		}
	}

	asset.DataSharing = sharing
	err = uc.repo.Save(ctx, asset, domain.SaveOptions{
		Fields:         []string{domain.FieldDataSharing},
		SkipVersioning: true,
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.DataSharing{}, err
		}
		return domain.DataSharing{}, domain.PersistenceError{Op: "save data_sharing of " + assetUID, Err: err}
	}

	uc.logger.Info("data sharing updated",
		slog.String("asset", assetUID),
		slog.Bool("enabled", sharing.Enabled),
		slog.Int("fields", len(sharing.Fields)),
		slog.Int("users", len(sharing.Users)),
	)
	return sharing, nil
}

func normalizeSharing(s domain.DataSharing) domain.DataSharing {
	fields := []string{}
	for _, f := range s.Fields {
		if f != "" && !slices.Contains(fields, f) {
			fields = append(fields, f)
		}
	}
	users := []string{}
	for _, u := range s.Users {
		if u != "" && !slices.Contains(users, u) {
			users = append(users, u)
		}
	}
	s.Fields = fields
	s.Users = users
	return s
}
