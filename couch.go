package couch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

// Client is the handle to CouchDB instances. It owns one connection per
// host, call Close when done with it.
type Client struct {
	defaultHost string
	debug       atomic.Bool
	logger      hclog.Logger
	conns       *connCache
}

// Task describes an active task running on an instance, e.g. a continuous replication
type Task map[string]interface{}

// DefaultUUIDCount is the number of UUIDs GenerateUUIDs asks for if the
// caller doesn't say.
const DefaultUUIDCount = 100

// NewClient returns a client for the given configuration. A nil config
// means DefaultConfig.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	resolved := *cfg
	if resolved.DefaultHost == "" {
		resolved.DefaultHost = DefaultHost
	}
	cfg = &resolved
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{
			Name:  "couch",
			Level: hclog.Info,
		})
	}

	c := &Client{
		defaultHost: cfg.DefaultHost,
		logger:      logger,
		conns:       newConnCache(cfg.MaxIdleConnsPerHost, cfg.idleConnTimeout()),
	}
	c.SetDebug(cfg.Debug)
	return c, nil
}

// DefaultHost returns the host used when none is given.
func (c *Client) DefaultHost() string {
	return c.defaultHost
}

// Logger returns the client's logger.
func (c *Client) Logger() hclog.Logger {
	return c.logger
}

// Debug reports whether requests are logged.
func (c *Client) Debug() bool {
	return c.debug.Load()
}

// SetDebug switches request logging on or off. Logging happens at debug
// level, so switching it on also lowers the logger's level.
func (c *Client) SetDebug(on bool) {
	c.debug.Store(on)
	if on && !c.logger.IsDebug() && !c.logger.IsTrace() {
		c.logger.SetLevel(hclog.Debug)
	}
}

// Close releases all connections. The client can still be used afterwards,
// connections are created again on demand.
func (c *Client) Close() {
	c.conns.close()
}

// Database returns a handle for a database on the default host.
func (c *Client) Database(name string) *Database {
	return c.DatabaseOn("", name)
}

// DatabaseOn returns a handle for a database on the given host. An empty
// host means the default host.
func (c *Client) DatabaseOn(host, name string) *Database {
	if host == "" {
		host = c.defaultHost
	}
	return newDatabase(c, host, name)
}

// ActiveTasks returns all currently active tasks of a CouchDB instance.
func (c *Client) ActiveTasks(ctx context.Context) ([]Task, error) {
	return activeTasks(ctx, c, c.defaultHost)
}

func activeTasks(ctx context.Context, ix interactor, host string) ([]Task, error) {
	var tasks []Task
	r := &request{method: http.MethodGet, path: "/_active_tasks", expect: http.StatusOK, host: host}
	err := call(ctx, ix, r, &tasks)
	return tasks, err
}

// AllDBs returns the names of all databases.
func (c *Client) AllDBs(ctx context.Context) ([]string, error) {
	var names []string
	err := call(ctx, c, &request{method: http.MethodGet, path: "/_all_dbs", expect: http.StatusOK}, &names)
	return names, err
}

// GenerateUUIDs asks the server for count unique identifiers. A count of
// zero or less requests DefaultUUIDCount.
func (c *Client) GenerateUUIDs(ctx context.Context, count int) ([]string, error) {
	if count <= 0 {
		count = DefaultUUIDCount
	}
	var result struct {
		UUIDs []string `json:"uuids"`
	}
	r := &request{
		method: http.MethodGet,
		path:   "/_uuids",
		expect: http.StatusOK,
		opts:   &Options{Count: count},
	}
	if err := call(ctx, c, r, &result); err != nil {
		return nil, err
	}
	return result.UUIDs, nil
}

// IsReplication reports whether the task is a replication.
func (t Task) IsReplication() bool {
	typ, _ := t["type"].(string)
	return typ == "replication"
}

// HasReplicationID reports whether the task belongs to the replication with
// the given id. CouchDB appends options like "+continuous" to the id.
func (t Task) HasReplicationID(id string) bool {
	taskID, _ := t["replication_id"].(string)
	if taskID == "" || id == "" {
		return false
	}
	return taskID == id || strings.HasPrefix(taskID, id+"+")
}
