package domain

const (
	RequesterIdCtxKey = "pd-requesterId"
	RequestIdCtxKey   = "pd-requestId"
)

const (
	RequesterIdHeader = "X-Requester"
	RequestIdHeader   = "X-Request-Id"
)

// ManageCapability is the permission codename granting configuration rights on an asset.
const ManageCapability = "manage_asset"

// AssetPrefix prefixes generated asset uids.
const AssetPrefix = "a"

// AssetTypeSurvey is the only asset type that can take part in a pairing.
const AssetTypeSurvey = "survey"
