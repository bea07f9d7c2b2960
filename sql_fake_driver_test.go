package cachecompress

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
)

// fakeDriver records statements so dialect SQL can be asserted without a server.
type fakeDriver struct {
	execErr error
	pingErr error

	mu      sync.Mutex
	queries []string
}

func (d *fakeDriver) Open(string) (driver.Conn, error) {
	return &fakeConn{d: d}, nil
}

func (d *fakeDriver) record(query string) {
	d.mu.Lock()
	d.queries = append(d.queries, query)
	d.mu.Unlock()
}

func (d *fakeDriver) seen() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.queries...)
}

type fakeConn struct{ d *fakeDriver }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	c.d.record(query)
	return fakeStmt{}, nil
}
func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return nil, errors.New("not impl") }

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.d.record(query)
	return driver.RowsAffected(1), c.d.execErr
}

func (c *fakeConn) Ping(context.Context) error { return c.d.pingErr }

type fakeStmt struct{}

func (fakeStmt) Close() error                               { return nil }
func (fakeStmt) NumInput() int                              { return -1 }
func (fakeStmt) Exec([]driver.Value) (driver.Result, error) { return driver.RowsAffected(1), nil }
func (fakeStmt) Query([]driver.Value) (driver.Rows, error)  { return nil, errors.New("not impl") }

var (
	pgFakeDriver    = &fakeDriver{}
	mysqlFakeDriver = &fakeDriver{}
)

func init() {
	sql.Register("pgx-fake", pgFakeDriver)
	sql.Register("mysql-fake", mysqlFakeDriver)
	sql.Register("exec-fail", &fakeDriver{execErr: errors.New("boom")})
	sql.Register("ping-fail", &fakeDriver{pingErr: errors.New("ping boom")})
}
