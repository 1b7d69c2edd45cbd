package domain

import (
	"encoding/json"
	"slices"
)

// Persistable attributes of an Asset, as named in SaveOptions.Fields.
const (
	FieldName        = "name"
	FieldContent     = "content"
	FieldDataSharing = "data_sharing"
	FieldPairedData  = "paired_data"
)

// Asset is a form definition. Pairings live inside the child asset, the sharing
// configuration inside the parent.
type Asset struct {
	UID         string            `json:"uid"`
	Owner       string            `json:"owner"`
	Name        string            `json:"name"`
	AssetType   string            `json:"assetType"`
	Content     json.RawMessage   `json:"content,omitempty"`
	DataSharing DataSharing       `json:"dataSharing"`
	PairedData  PairingCollection `json:"pairedData"`
	ContentHash string            `json:"contentHash"`
	Version     int64             `json:"version"`
}

// DataSharing is the sharing configuration of a parent asset.
// Empty Fields means every schema field is eligible, empty Users means any requester.
type DataSharing struct {
	Enabled bool     `json:"enabled"`
	Fields  []string `json:"fields"`
	Users   []string `json:"users"`
}

func (d DataSharing) RestrictsUsers() bool {
	return len(d.Users) > 0
}

func (d DataSharing) Lists(user string) bool {
	return slices.Contains(d.Users, user)
}

// SharingChanges is a partial update of DataSharing. Nil means unchanged.
type SharingChanges struct {
	Enabled *bool     `json:"enabled,omitempty"`
	Fields  *[]string `json:"fields,omitempty"`
	Users   *[]string `json:"users,omitempty"`
}

func (c SharingChanges) Apply(d DataSharing) DataSharing {
	if c.Enabled != nil {
		d.Enabled = *c.Enabled
	}
	if c.Fields != nil {
		d.Fields = slices.Clone(*c.Fields)
	}
	if c.Users != nil {
		d.Users = slices.Clone(*c.Users)
	}
	return d
}

// SaveOptions scopes a save of the owning asset.
// SkipVersioning leaves version and content hash untouched.
type SaveOptions struct {
	Fields         []string
	SkipVersioning bool
}

type surveyRow struct {
	Name     string `json:"name"`
	AutoName string `json:"$autoname"`
	Type     string `json:"type"`
}

type assetContent struct {
	Survey []surveyRow `json:"survey"`
}

var structuralTypes = []string{
	"begin_group",
	"end_group",
	"begin_repeat",
	"end_repeat",
	"begin group",
	"end group",
	"begin repeat",
	"end repeat",
	"note",
}

// SurveyFieldNames lists the answerable field names declared in an asset's content, in order.
func SurveyFieldNames(content json.RawMessage) ([]string, error) {
	if len(content) == 0 {
		return []string{}, nil
	}

	var c assetContent
	if err := json.Unmarshal(content, &c); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(c.Survey))
	for _, row := range c.Survey {
		if slices.Contains(structuralTypes, row.Type) {
			continue
		}
		name := row.Name
		if name == "" {
			name = row.AutoName
		}
		if name == "" || slices.Contains(names, name) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
