// Package memstore implements an in-process document store with the semantics of the
// production backend: etags, session tokens, partition scoped unique keys, default
// time-to-live and SQL-like queries. Data lives on the Server and survives connection
// invalidation, so a dropped collection is recreated by re-provisioning.
package memstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jacentio/docstore/store"
)

// DefaultPageSize is the number of query results returned per page.
const DefaultPageSize = 100

// FailureHook is consulted before every transport call. A non-nil error is
// returned to the caller instead of performing the call.
type FailureHook func(op store.Op, ref store.CollectionRef) error

// Call records one transport call.
type Call struct {
	Op           store.Op
	Ref          store.CollectionRef
	SessionToken string
	IfMatch      string
}

// Option configures a Server.
type Option func(*Server)

// WithPageSize sets the number of query results per page.
func WithPageSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithNow sets the time source used for document expiry.
func WithNow(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// Server holds databases and implements store.Dialer.
type Server struct {
	pageSize int
	now      func() time.Time

	mu        sync.Mutex
	databases map[string]map[string]*collection
	lsn       int64
	seq       int64
	hook      FailureHook
	calls     []Call
	dials     int
	closes    int
}

// New creates an empty Server.
func New(opts ...Option) *Server {
	s := &Server{
		pageSize:  DefaultPageSize,
		now:       time.Now,
		databases: make(map[string]map[string]*collection),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial implements store.Dialer.
func (s *Server) Dial(ctx context.Context, cfg store.Config) (store.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	return &conn{server: s}, nil
}

// SetFailureHook installs fn, replacing any previous hook. Nil removes it.
func (s *Server) SetFailureHook(fn FailureHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

// FailNext makes the next n calls of op fail with err. Other calls proceed.
func (s *Server) FailNext(op store.Op, n int, err error) {
	var mu sync.Mutex
	remaining := n
	s.SetFailureHook(func(o store.Op, _ store.CollectionRef) error {
		mu.Lock()
		defer mu.Unlock()
		if o != op || remaining == 0 {
			return nil
		}
		remaining--
		return err
	})
}

// Calls returns the transport calls made so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Dials returns the number of connections opened.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Closes returns the number of connections closed.
func (s *Server) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// DropCollection removes a collection and its documents.
func (s *Server) DropCollection(database, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	colls, ok := s.databases[database]
	if !ok {
		return false
	}
	if _, ok := colls[name]; !ok {
		return false
	}
	delete(colls, name)
	return true
}

// DropDatabase removes a database and its collections.
func (s *Server) DropDatabase(database string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.databases[database]; !ok {
		return false
	}
	delete(s.databases, database)
	return true
}

// HasCollection reports whether a collection exists.
func (s *Server) HasCollection(database, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.databases[database][name]
	return ok
}

// Count returns the number of live documents in a collection.
func (s *Server) Count(ref store.CollectionRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.databases[ref.Database][ref.Collection]
	if !ok {
		return 0
	}
	now := s.now()
	n := 0
	for _, e := range c.docs {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// before records a call and runs the failure hook. Called without s.mu held.
func (s *Server) before(op store.Op, ref store.CollectionRef, opts store.ItemOptions) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: op, Ref: ref, SessionToken: opts.SessionToken, IfMatch: opts.IfMatch})
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		return hook(op, ref)
	}
	return nil
}

// collectionLocked returns the collection or a 404 failure naming the missing resource.
func (s *Server) collectionLocked(ref store.CollectionRef) (*collection, error) {
	colls, ok := s.databases[ref.Database]
	if !ok {
		return nil, store.NotFound(store.ResourceDatabase, "Database %s does not exist", ref.Database)
	}
	c, ok := colls[ref.Collection]
	if !ok {
		return nil, store.NotFound(store.ResourceCollection, "Collection %s does not exist", ref)
	}
	return c, nil
}

// sessionTokenLocked returns the current log sequence number as a session token.
func (s *Server) sessionTokenLocked() string {
	return strconv.FormatInt(s.lsn, 10)
}

func (s *Server) commitLocked() string {
	s.lsn++
	return s.sessionTokenLocked()
}

func (s *Server) nextSeqLocked() int64 {
	s.seq++
	return s.seq
}
