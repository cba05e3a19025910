// Package report archives benchmark results in Cassandra.
package report

import (
	"time"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
)

const createTable = `CREATE TABLE IF NOT EXISTS records (
	run timeuuid,
	at timestamp,
	test text,
	seq bigint,
	transport text,
	scenario text,
	name text,
	payload int,
	interval double,
	value double,
	PRIMARY KEY ((run), at, test, seq)
)`

const insertRecord = `INSERT INTO records
	(run, at, test, seq, transport, scenario, name, payload, interval, value)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// executor runs a single CQL statement.
type executor interface {
	Exec(stmt string, values ...interface{}) error
	Close()
}

type sessionExecutor struct {
	session *gocql.Session
}

func (s sessionExecutor) Exec(stmt string, values ...interface{}) error {
	return s.session.Query(stmt, values...).Exec()
}

func (s sessionExecutor) Close() {
	s.session.Close()
}

// CassandraSink is a bench.Sink inserting every Record into the records
// table of a keyspace. All records of one process share a run id.
type CassandraSink struct {
	exec   executor
	run    gocql.UUID
	logger *zap.Logger
}

// NewCassandraSink connects to hosts and creates the records table if
// needed. The keyspace must exist.
func NewCassandraSink(hosts []string, keyspace string, logger *zap.Logger) (*CassandraSink, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.One
	cluster.Timeout = 5 * time.Second
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, errors.Wrapf(err, "connect to cassandra %v", hosts)
	}
	return newCassandraSink(sessionExecutor{session}, logger)
}

func newCassandraSink(exec executor, logger *zap.Logger) (*CassandraSink, error) {
	if err := exec.Exec(createTable); err != nil {
		exec.Close()
		return nil, errors.Wrap(err, "create records table")
	}
	s := &CassandraSink{exec: exec, run: gocql.TimeUUID(), logger: logger}
	logger.Info("archiving results", zap.String("run", s.run.String()))
	return s, nil
}

// Run returns the id shared by the records of this process.
func (s *CassandraSink) Run() gocql.UUID {
	return s.run
}

func (s *CassandraSink) Write(r bench.Record) error {
	// Window records have no sequence number; the timestamp keeps them
	// apart.
	seq := int64(-1)
	if r.Sequenced() {
		seq = int64(r.Seq)
	}
	err := s.exec.Exec(insertRecord,
		s.run, r.At, r.Test, seq, r.Transport, r.Scenario, r.Name, r.Payload, r.Interval, r.Value)
	return errors.Wrap(err, "insert record")
}

// Close closes the session.
func (s *CassandraSink) Close() {
	s.exec.Close()
}
