package models

import (
	"time"

	"gorm.io/datatypes"
)

type Asset struct {
	UID          string         `json:"uid" gorm:"primaryKey;type:text"`
	Owner        string         `json:"owner" gorm:"type:text;index;not null"`
	Name         string         `json:"name" gorm:"type:text"`
	AssetType    string         `json:"assetType" gorm:"type:text;not null;default:'survey'"`
	Content      datatypes.JSON `json:"content" gorm:"type:jsonb"`
	DataSharing  datatypes.JSON `json:"dataSharing" gorm:"type:jsonb;not null;default:'{}'"`
	PairedData   datatypes.JSON `json:"pairedData" gorm:"type:jsonb;not null;default:'{}'"`
	ContentHash  string         `json:"contentHash" gorm:"type:text"`
	Version      int64          `json:"version" gorm:"not null;default:0"`
	CDate        time.Time      `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	DateModified time.Time      `json:"dateModified" gorm:"type:timestamp with time zone;not null;default:clock_timestamp()"`
}

type AssetPermission struct {
	AssetUID string `json:"assetUid" gorm:"primaryKey;type:text"`
	Asset    Asset  `json:"-" gorm:"foreignKey:AssetUID;references:UID;constraint:OnDelete:CASCADE;"`
	Username string `json:"username" gorm:"primaryKey;type:text;index"`
	Codename string `json:"codename" gorm:"primaryKey;type:text"`
}
