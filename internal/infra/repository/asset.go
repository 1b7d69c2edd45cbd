package repository

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/pairdata/internal/domain"
	"github.com/totegamma/pairdata/internal/infra/database/models"
)

type AssetRepository struct {
	db *gorm.DB
}

func NewAssetRepository(db *gorm.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

// ContentHash is the version token of an asset's content.
func ContentHash(content []byte) string {
	sum := xxh3.Hash128(content).Bytes()
	return "xxh3:" + hex.EncodeToString(sum[:])
}

func (r *AssetRepository) Load(ctx context.Context, uid string) (domain.Asset, error) {
	var asset models.Asset
	err := r.db.WithContext(ctx).
		Where("uid = ?", uid).
		Take(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Asset{}, domain.NotFoundError{Resource: "asset"}
	}
	if err != nil {
		return domain.Asset{}, errors.Wrap(err, "AssetRepository.Load failed")
	}

	return toDomainAsset(asset)
}

// Create inserts a new asset. Pairing and sharing state start empty unless given.
func (r *AssetRepository) Create(ctx context.Context, asset domain.Asset) error {
	row, err := fromDomainAsset(asset)
	if err != nil {
		return err
	}
	row.ContentHash = ContentHash(asset.Content)
	row.Version = 1

	err = r.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.RejectionError{Code: domain.CodeUIDConflict, Field: domain.AttrUID, Values: []string{asset.UID}}
	}
	if err != nil {
		return errors.Wrap(err, "AssetRepository.Create failed")
	}
	return nil
}

// GrantPermission records a capability of user on an asset.
func (r *AssetRepository) GrantPermission(ctx context.Context, assetUID, user, codename string) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		DoNothing: true,
	}).Create(&models.AssetPermission{
		AssetUID: assetUID,
		Username: user,
		Codename: codename,
	}).Error
	if err != nil {
		return errors.Wrap(err, "AssetRepository.GrantPermission failed")
	}
	return nil
}

func (r *AssetRepository) LoadSharing(ctx context.Context, parentUID string) (domain.DataSharing, error) {
	var asset models.Asset
	err := r.db.WithContext(ctx).
		Select("uid", "data_sharing").
		Where("uid = ?", parentUID).
		Take(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.DataSharing{}, domain.NotFoundError{Resource: "parent asset"}
	}
	if err != nil {
		return domain.DataSharing{}, errors.Wrap(err, "AssetRepository.LoadSharing failed")
	}

	var sharing domain.DataSharing
	if err := decodeJSON(asset.DataSharing, &sharing); err != nil {
		return domain.DataSharing{}, errors.Wrapf(err, "asset %s has malformed data_sharing", parentUID)
	}
	return sharing, nil
}

func (r *AssetRepository) LoadSchemaFields(ctx context.Context, parentUID string) ([]string, error) {
	var asset models.Asset
	err := r.db.WithContext(ctx).
		Select("uid", "content").
		Where("uid = ?", parentUID).
		Take(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFoundError{Resource: "parent asset"}
	}
	if err != nil {
		return nil, errors.Wrap(err, "AssetRepository.LoadSchemaFields failed")
	}

	fields, err := domain.SurveyFieldNames(json.RawMessage(asset.Content))
	if err != nil {
		return nil, errors.Wrapf(err, "asset %s has malformed content", parentUID)
	}
	return fields, nil
}

// HasManageCapability looks up an explicit manage grant. Ownership alone does not count.
func (r *AssetRepository) HasManageCapability(ctx context.Context, requester, assetUID string) (bool, error) {
	if requester == "" {
		return false, nil
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.AssetPermission{}).
		Where("asset_uid = ? AND username = ? AND codename = ?", assetUID, requester, domain.ManageCapability).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "AssetRepository.HasManageCapability failed")
	}
	return count > 0, nil
}

// Save writes only the attributes named in opts.Fields. Unless versioning is skipped,
// the version counter and content hash move forward in the same statement.
func (r *AssetRepository) Save(ctx context.Context, asset domain.Asset, opts domain.SaveOptions) error {
	if len(opts.Fields) == 0 {
		return fmt.Errorf("AssetRepository.Save: no fields to persist")
	}

	updates := make(map[string]any, len(opts.Fields)+3)
	for _, field := range opts.Fields {
		switch field {
		case domain.FieldName:
			updates["name"] = asset.Name
		case domain.FieldContent:
			updates["content"] = datatypes.JSON(asset.Content)
		case domain.FieldDataSharing:
			b, err := json.Marshal(asset.DataSharing)
			if err != nil {
				return err
			}
			updates["data_sharing"] = datatypes.JSON(b)
		case domain.FieldPairedData:
			pairedData := asset.PairedData
			if pairedData == nil {
				pairedData = domain.PairingCollection{}
			}
			b, err := json.Marshal(pairedData)
			if err != nil {
				return err
			}
			updates["paired_data"] = datatypes.JSON(b)
		default:
			return fmt.Errorf("AssetRepository.Save: unknown field %q", field)
		}
	}

	if !opts.SkipVersioning {
		updates["version"] = gorm.Expr("version + 1")
		updates["content_hash"] = ContentHash(asset.Content)
		updates["date_modified"] = time.Now()
	}

	result := r.db.WithContext(ctx).
		Model(&models.Asset{}).
		Where("uid = ?", asset.UID).
		Updates(updates)
	if result.Error != nil {
		return errors.Wrap(result.Error, "AssetRepository.Save failed")
	}
	if result.RowsAffected == 0 {
		return domain.NotFoundError{Resource: "asset"}
	}
	return nil
}

func toDomainAsset(m models.Asset) (domain.Asset, error) {
	asset := domain.Asset{
		UID:         m.UID,
		Owner:       m.Owner,
		Name:        m.Name,
		AssetType:   m.AssetType,
		Content:     json.RawMessage(m.Content),
		ContentHash: m.ContentHash,
		Version:     m.Version,
		PairedData:  domain.PairingCollection{},
	}

	if err := decodeJSON(m.DataSharing, &asset.DataSharing); err != nil {
		return domain.Asset{}, errors.Wrapf(err, "asset %s has malformed data_sharing", m.UID)
	}
	if err := decodeJSON(m.PairedData, &asset.PairedData); err != nil {
		return domain.Asset{}, errors.Wrapf(err, "asset %s has malformed paired_data", m.UID)
	}
	if asset.PairedData == nil {
		asset.PairedData = domain.PairingCollection{}
	}
	return asset, nil
}

func fromDomainAsset(a domain.Asset) (models.Asset, error) {
	sharing, err := json.Marshal(a.DataSharing)
	if err != nil {
		return models.Asset{}, err
	}
	pairedData := a.PairedData
	if pairedData == nil {
		pairedData = domain.PairingCollection{}
	}
	paired, err := json.Marshal(pairedData)
	if err != nil {
		return models.Asset{}, err
	}
	assetType := a.AssetType
	if assetType == "" {
		assetType = domain.AssetTypeSurvey
	}
	return models.Asset{
		UID:         a.UID,
		Owner:       a.Owner,
		Name:        a.Name,
		AssetType:   assetType,
		Content:     datatypes.JSON(a.Content),
		DataSharing: datatypes.JSON(sharing),
		PairedData:  datatypes.JSON(paired),
	}, nil
}

func decodeJSON(raw datatypes.JSON, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
