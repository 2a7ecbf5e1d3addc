package cloud

import (
	"strconv"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"
)

// ClientFactory creates a client for one set of credentials.
type ClientFactory func(username, password string) Client

// Pool shares one Client per set of credentials, so profiles of the same
// account use a single session.
type Pool struct {
	factory ClientFactory
	clients *xsync.Map[string, Client]
}

// NewPool creates an empty pool.
func NewPool(factory ClientFactory) *Pool {
	return &Pool{
		factory: factory,
		clients: xsync.NewMap[string, Client](),
	}
}

// PoolKey returns the pool key of a set of credentials. The username is
// case-insensitive; the password only enters the key as a hash.
func PoolKey(username, password string) string {
	return strings.ToLower(username) + "_" + strconv.FormatUint(xxh3.HashString(password), 16)
}

// Get returns the client for the credentials, creating it on first use.
func (p *Pool) Get(username, password string) Client {
	c, _ := p.clients.LoadOrCompute(PoolKey(username, password), func() (Client, bool) {
		return p.factory(username, password), false
	})
	return c
}

// Len returns the number of pooled clients.
func (p *Pool) Len() int {
	return p.clients.Size()
}
