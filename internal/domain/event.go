package domain

import "time"

type PairingEventType string

const (
	PairingCreated PairingEventType = "created"
	PairingUpdated PairingEventType = "updated"
	PairingDeleted PairingEventType = "deleted"
)

// PairingEvent is broadcast after a pairing change has been persisted.
type PairingEvent struct {
	Type       PairingEventType `json:"type"`
	AssetUID   string           `json:"assetUid"`
	ParentUID  string           `json:"parentUid"`
	Identifier string           `json:"identifier"`
	Filename   string           `json:"filename,omitempty"`
	Hash       string           `json:"hash,omitempty"`
	At         time.Time        `json:"at"`
}
