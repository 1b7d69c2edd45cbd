package database

import (
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// NewMemcached accepts a comma separated server list.
func NewMemcached(addr string) *memcache.Client {
	servers := []string{}
	for _, s := range strings.Split(addr, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	mc := memcache.New(servers...)
	mc.Timeout = 500 * time.Millisecond
	return mc
}
