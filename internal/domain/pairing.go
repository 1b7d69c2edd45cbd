package domain

import (
	"fmt"
	"maps"
	"slices"

	"github.com/pkg/errors"
)

const (
	PairedDataPrefix   = "pd"
	PairedDataMimeType = "application/xml"
)

// PairedDataValues is the persisted form of a pairing, stored under its parent UID.
type PairedDataValues struct {
	Fields     []string `json:"fields"`
	Filename   string   `json:"filename"`
	Identifier string   `json:"identifier"`
}

// PairingCollection holds the pairings of one child asset keyed by parent UID.
type PairingCollection map[string]PairedDataValues

func (c PairingCollection) Clone() PairingCollection {
	out := make(PairingCollection, len(c))
	for k, v := range c {
		v.Fields = slices.Clone(v.Fields)
		out[k] = v
	}
	return out
}

// Lookup finds a pairing by identifier first, then by parent UID.
func (c PairingCollection) Lookup(key string) (string, PairedDataValues, bool) {
	for parentUID, v := range c {
		if v.Identifier == key {
			return parentUID, v, true
		}
	}
	v, ok := c[key]
	return key, v, ok
}

func (c PairingCollection) HasIdentifier(identifier string) bool {
	for _, v := range c {
		if v.Identifier == identifier {
			return true
		}
	}
	return false
}

// FilenameTaken reports whether a pairing other than the one of exceptParent uses filename.
func (c PairingCollection) FilenameTaken(filename, exceptParent string) bool {
	for parentUID, v := range c {
		if parentUID != exceptParent && v.Filename == filename {
			return true
		}
	}
	return false
}

// Records builds the pairings of childUID ordered by parent UID.
func (c PairingCollection) Records(childUID string) ([]PairedData, error) {
	records := make([]PairedData, 0, len(c))
	for _, parentUID := range slices.Sorted(maps.Keys(c)) {
		pd, err := NewPairedData(parentUID, childUID, c[parentUID])
		if err != nil {
			return nil, err
		}
		records = append(records, pd)
	}
	return records, nil
}

// PairedData is a read-only link from a child asset to a subset of a parent's fields.
type PairedData struct {
	Identifier string
	ParentUID  string
	ChildUID   string
	Filename   string
	Fields     []string

	fingerprint string
}

// NewPairedData rebuilds a pairing from its stored values.
func NewPairedData(parentUID, childUID string, v PairedDataValues) (PairedData, error) {
	if v.Identifier == "" {
		return PairedData{}, errors.Wrapf(ErrMissingIdentifier, "asset %s, parent %s", childUID, parentUID)
	}
	fields := v.Fields
	if fields == nil {
		fields = []string{}
	}
	return PairedData{
		Identifier: v.Identifier,
		ParentUID:  parentUID,
		ChildUID:   childUID,
		Filename:   v.Filename,
		Fields:     fields,
	}, nil
}

func (p PairedData) String() string {
	return fmt.Sprintf("<PairedData %s (%s)>", p.Identifier, p.Filename)
}

func (p PairedData) Values() PairedDataValues {
	return PairedDataValues{
		Fields:     slices.Clone(p.Fields),
		Filename:   p.Filename,
		Identifier: p.Identifier,
	}
}

// WithFingerprint returns a copy carrying the hex digest used by Hash.
func (p PairedData) WithFingerprint(digest string) PairedData {
	p.fingerprint = digest
	return p
}

func (p PairedData) Fingerprint() string {
	return p.fingerprint
}

// Hash renders the fingerprint as "<algorithm>:<digest>".
func (p PairedData) Hash() string {
	return FingerprintAlgorithm + ":" + p.fingerprint
}

func (p PairedData) IsRemoteURL() bool {
	return true
}

func (p PairedData) MimeType() string {
	return PairedDataMimeType
}

// PairingChanges holds the mutable attributes of a pairing. Nil means unchanged.
type PairingChanges struct {
	Filename *string   `json:"filename,omitempty"`
	Fields   *[]string `json:"fields,omitempty"`
}

func (c PairingChanges) Apply(v PairedDataValues) PairedDataValues {
	if c.Filename != nil {
		v.Filename = *c.Filename
	}
	if c.Fields != nil {
		v.Fields = slices.Clone(*c.Fields)
	}
	return v
}
