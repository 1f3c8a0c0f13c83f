package couch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-multierror"
)

// A replication from a source to a target
type Replication struct {
	source     *Database
	target     *Database
	continuous bool
	sessionID  string
	id         string
}

// A bidirectional replication
type Sync struct {
	replA2B *Replication
	replB2A *Replication
}

type replRequest struct {
	CreateTarget bool   `json:"create_target"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	Continuous   bool   `json:"continuous"`
	Cancel       bool   `json:"cancel,omitempty"`
}

type replResponse struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id"`
	ID        string `json:"_local_id"`
}

// ReplicateTo replicates the database to a target database. If the target
// database does not exist it will be created. The target database may be on
// a different host.
//
// A one-off replication returns when it is done, a continuous one as soon as
// the server accepted it.
func (db *Database) ReplicateTo(ctx context.Context, target *Database, continuously bool) (*Replication, error) {
	req := replRequest{
		CreateTarget: true,
		Source:       db.URL(),
		Target:       target.URL(),
		Continuous:   continuously,
	}
	var resp replResponse
	if err := db.replicate(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &Replication{
		source:     db,
		target:     target,
		continuous: continuously,
		sessionID:  resp.SessionID,
		id:         resp.ID,
	}, nil
}

// Cancel a continuously running replication
func (repl *Replication) Cancel(ctx context.Context) error {
	req := replRequest{
		CreateTarget: true,
		Source:       repl.source.URL(),
		Target:       repl.target.URL(),
		Continuous:   repl.continuous,
		Cancel:       true,
	}
	return repl.source.replicate(ctx, req, nil)
}

// IsActive checks the active tasks of the source's server for this
// replication.
func (repl *Replication) IsActive(ctx context.Context) (bool, error) {
	tasks, err := activeTasks(ctx, repl.source.ix, repl.source.host)
	if err != nil {
		return false, err
	}
	for _, task := range tasks {
		if task.IsReplication() && task.HasReplicationID(repl.id) {
			return true, nil
		}
	}
	return false, nil
}

// Returns replication source
func (repl *Replication) Source() *Database {
	return repl.source
}

// Returns replication target
func (repl *Replication) Target() *Database {
	return repl.target
}

// Returns whether replication is running continuously or not
func (repl *Replication) Continuous() bool {
	return repl.continuous
}

// SessionID of a one-off replication, empty for continuous ones.
func (repl *Replication) SessionID() string {
	return repl.sessionID
}

// ID of a continuous replication as it appears in the active tasks.
func (repl *Replication) ID() string {
	return repl.id
}

// SyncWith synchronizes two databases by setting up two replications, one from given database
// to target and from target to given database. If the target database does not exist it will be created.
// The target database may be on a different host.
//
// This method may be convenient but note that it is not atomic: Sync means that this method will first
// replicate db to target and then target to db. If the first one fails, both fail. If the first one works but
// the second doesn't, the first one will have executed nonetheless. If the sync has been set up to be continuous,
// the first continuous replication will be cancelled if the second one fails.
func (db *Database) SyncWith(ctx context.Context, target *Database, continuously bool) (*Sync, error) {
	replA2B, err := db.ReplicateTo(ctx, target, continuously)
	if err != nil {
		return nil, err
	}
	replB2A, err := target.ReplicateTo(ctx, db, continuously)
	if err != nil {
		if continuously {
			if cErr := replA2B.Cancel(ctx); cErr != nil {
				err = multierror.Append(err, cErr)
			}
		}
		return nil, err
	}
	return &Sync{replA2B, replB2A}, nil
}

// Cancel a continuously running sync. Both directions are cancelled even if
// the first one fails, errors are combined.
func (sync *Sync) Cancel(ctx context.Context) error {
	var result *multierror.Error
	if err := sync.replA2B.Cancel(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("a->b: %w", err))
	}
	if err := sync.replB2A.Cancel(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("b->a: %w", err))
	}
	return result.ErrorOrNil()
}

// IsActive reports whether both directions are active.
func (sync *Sync) IsActive(ctx context.Context) (bool, error) {
	a2b, err := sync.replA2B.IsActive(ctx)
	if err != nil || !a2b {
		return false, err
	}
	return sync.replB2A.IsActive(ctx)
}

// replicate posts a replication request to the source's server. CouchDB
// answers 200 for finished one-off replications and 202 for accepted
// continuous ones and cancellations.
func (db *Database) replicate(ctx context.Context, req replRequest, resp *replResponse) error {
	expect := http.StatusOK
	if req.Continuous {
		expect = http.StatusAccepted
	}
	if req.Cancel {
		expect = http.StatusOK
	}
	r := &request{
		method: http.MethodPost,
		path:   "/_replicate",
		expect: expect,
		opts:   &Options{Body: req},
		host:   db.host,
	}
	if resp == nil {
		return call(ctx, db.ix, r, nil)
	}
	return call(ctx, db.ix, r, resp)
}
