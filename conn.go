package couch

import (
	"net/http"
	"net/url"
	"sync"
	"time"
)

// conn is the reusable connection to one host. Requests share its
// keep-alive pool.
type conn struct {
	host      string
	base      *url.URL
	user      *url.Userinfo
	client    *http.Client
	transport *http.Transport
}

// url returns the absolute URL for a request path (which includes the query).
func (cn *conn) url(path string) string {
	return cn.base.Scheme + "://" + cn.base.Host + path
}

// authorize adds basic auth if the host URI carried credentials.
func (cn *conn) authorize(req *http.Request) {
	if cn.user == nil {
		return
	}
	password, _ := cn.user.Password()
	req.SetBasicAuth(cn.user.Username(), password)
}

// connCache memoizes one connection per host string. It never evicts,
// connections live until close.
type connCache struct {
	mu    sync.Mutex
	conns map[string]*conn

	maxIdlePerHost int
	idleTimeout    time.Duration
}

func newConnCache(maxIdlePerHost int, idleTimeout time.Duration) *connCache {
	return &connCache{
		conns:          make(map[string]*conn),
		maxIdlePerHost: maxIdlePerHost,
		idleTimeout:    idleTimeout,
	}
}

// get returns the connection for host, creating it on first use.
func (cc *connCache) get(host string) (*conn, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cn, ok := cc.conns[host]; ok {
		return cn, nil
	}

	u, err := parseHost(host)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cc.maxIdlePerHost,
		IdleConnTimeout:     cc.idleTimeout,
	}
	cn := &conn{
		host:      host,
		base:      u,
		user:      u.User,
		transport: transport,
		client:    &http.Client{Transport: transport},
	}
	cc.conns[host] = cn
	return cn, nil
}

// len reports the number of cached connections.
func (cc *connCache) len() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.conns)
}

// close releases idle connections of every cached host and empties the cache.
func (cc *connCache) close() {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	for host, cn := range cc.conns {
		cn.transport.CloseIdleConnections()
		delete(cc.conns, host)
	}
}
