package service

import (
	"net/url"
	"strings"

	"github.com/totegamma/pairdata/internal/config"
	"github.com/totegamma/pairdata/internal/domain"
)

// LinkResolver renders the external locator of a pairing from routing configuration.
type LinkResolver struct {
	baseURL string
	pattern string
}

func NewLinkResolver(routing config.Routing) *LinkResolver {
	pattern := routing.PairingDetail
	if pattern == "" {
		pattern = config.DefaultPairingDetail
	}
	return &LinkResolver{
		baseURL: strings.TrimSuffix(routing.BaseURL, "/"),
		pattern: pattern,
	}
}

// Resolve is a pure function of the configuration and the record.
func (r *LinkResolver) Resolve(pd domain.PairedData) string {
	path := strings.NewReplacer(
		"{asset}", url.PathEscape(pd.ChildUID),
		"{pairing}", url.PathEscape(pd.Identifier),
	).Replace(r.pattern)
	return r.baseURL + path
}
