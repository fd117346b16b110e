package session_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/jacentio/docstore/memstore"
	"github.com/jacentio/docstore/session"
	"github.com/jacentio/docstore/store"
)

func newRepository(t *testing.T, srv *memstore.Server, p session.Provider) *store.Repository {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.Endpoint = "memory://"
	cfg.Key = "secret"
	cfg.Databases = map[string][]store.CollectionSettings{
		"shop": {{Name: "orders", PartitionKeyPath: "/customerId"}},
	}

	factory := store.NewClientFactory(srv)
	t.Cleanup(func() { _ = factory.Close() })

	repo, err := store.NewRepository(factory, cfg, store.WithMiddleware(session.Intercept(p)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return repo
}

func dialOrders(t *testing.T, srv *memstore.Server) store.Connection {
	t.Helper()
	ctx := context.Background()
	conn, err := srv.Dial(ctx, store.Config{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.EnsureDatabase(ctx, "shop", 400); err != nil {
		t.Fatalf("ensure database: %v", err)
	}
	settings := store.CollectionSettings{Name: "orders", PartitionKeyPath: "/customerId"}
	if err := conn.EnsureCollection(ctx, "shop", settings, 400, nil); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}
	return conn
}

func sessionTokens(srv *memstore.Server, op store.Op) []string {
	var out []string
	for _, c := range srv.Calls() {
		if c.Op == op {
			out = append(out, c.SessionToken)
		}
	}
	return out
}

func assertTokens(t *testing.T, srv *memstore.Server, op store.Op, expected []string) {
	t.Helper()
	if got := sessionTokens(srv, op); !reflect.DeepEqual(got, expected) {
		t.Errorf("expected %s tokens %q, got %q", op, expected, got)
	}
}

func TestIntercept_ReadYourWrites(t *testing.T) {
	srv := memstore.New()
	repo := newRepository(t, srv, session.Terminal{})

	ctx := session.NewContext(context.Background())
	created, err := repo.Create(ctx, store.Document(`{"id":"o1","customerId":"c1"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.SessionToken == "" {
		t.Fatal("expected a session token")
	}

	slot, ok := session.SlotFrom(ctx)
	if !ok {
		t.Fatal("expected a slot in the context")
	}
	if slot.Get() != created.SessionToken {
		t.Errorf("expected slot %q, got %q", created.SessionToken, slot.Get())
	}

	if _, err := repo.Read(ctx, "o1", "c1"); err != nil {
		t.Fatalf("read: %v", err)
	}

	assertTokens(t, srv, store.OpRead, []string{created.SessionToken})
	assertTokens(t, srv, store.OpCreate, []string{""})
}

func TestIntercept_NoLeakBetweenContexts(t *testing.T) {
	srv := memstore.New()
	repo := newRepository(t, srv, session.Terminal{})

	writer := session.NewContext(context.Background())
	if _, err := repo.Create(writer, store.Document(`{"id":"o1","customerId":"c1"}`)); err != nil {
		t.Fatalf("create: %v", err)
	}

	reader := session.NewContext(context.Background())
	if _, err := repo.Read(reader, "o1", "c1"); err != nil {
		t.Fatalf("read: %v", err)
	}

	assertTokens(t, srv, store.OpRead, []string{""})
}

func TestIntercept_QueryCapturesToken(t *testing.T) {
	srv := memstore.New()
	repo := newRepository(t, srv, session.Terminal{})
	ctx := session.NewContext(context.Background())

	if _, err := repo.Upsert(ctx, store.Document(`{"id":"o1","customerId":"c1"}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	docs, err := repo.Query(ctx, store.NewQuery("SELECT * FROM c"))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("expected 1 document, got %d", len(docs))
	}

	slot, _ := session.SlotFrom(ctx)
	assertTokens(t, srv, store.OpQuery, []string{slot.Get()})
}

type fixedProvider struct {
	token string
	set   []string
}

func (f *fixedProvider) SessionToken(context.Context) string { return f.token }
func (f *fixedProvider) SetSessionToken(_ context.Context, token string) {
	f.set = append(f.set, token)
}

func TestIntercept_KeepsCallerToken(t *testing.T) {
	srv := memstore.New()
	ctx := context.Background()
	conn := dialOrders(t, srv)

	p := &fixedProvider{token: "from-provider"}
	transport := session.Intercept(p)(conn)
	ref := store.CollectionRef{Database: "shop", Collection: "orders"}

	if _, err := transport.UpsertItem(ctx, ref, store.Document(`{"id":"o1","customerId":"c1"}`),
		store.ItemOptions{SessionToken: "from-caller"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := transport.ReadItem(ctx, ref, "o1", "c1", store.ItemOptions{}); err != nil {
		t.Fatalf("read: %v", err)
	}

	assertTokens(t, srv, store.OpUpsert, []string{"from-caller"})
	assertTokens(t, srv, store.OpRead, []string{"from-provider"})
	if len(p.set) != 2 {
		t.Errorf("expected 2 stored tokens, got %q", p.set)
	}
}

func TestIntercept_FailedCallStoresNothing(t *testing.T) {
	srv := memstore.New()
	ctx := context.Background()
	conn, err := srv.Dial(ctx, store.Config{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	p := &fixedProvider{}
	transport := session.Intercept(p)(conn)

	_, err = transport.ReadItem(ctx, store.CollectionRef{Database: "none", Collection: "x"}, "o1", "o1", store.ItemOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(p.set) != 0 {
		t.Errorf("expected no stored tokens, got %q", p.set)
	}
}
