package memstore

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/jacentio/docstore/store"
)

func TestParseQuery(t *testing.T) {
	q, err := parseQuery(`SELECT c.id, c.customer.name FROM c WHERE c.status = ? AND c.total >= 10 ORDER BY c.total DESC`, []any{"open"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if q.alias != "c" {
		t.Errorf("expected alias %q, got %q", "c", q.alias)
	}
	if expected := [][]string{{"id"}, {"customer", "name"}}; !reflect.DeepEqual(q.fields, expected) {
		t.Errorf("expected fields %v, got %v", expected, q.fields)
	}
	expected := []condition{
		{path: []string{"status"}, op: "=", value: "open"},
		{path: []string{"total"}, op: ">=", value: json.Number("10")},
	}
	if !reflect.DeepEqual(q.conds, expected) {
		t.Errorf("expected conditions %+v, got %+v", expected, q.conds)
	}
	if !reflect.DeepEqual(q.orderBy, []string{"total"}) || !q.desc {
		t.Errorf("expected ORDER BY total DESC, got %v desc=%v", q.orderBy, q.desc)
	}
}

func TestParseQuery_SelectAll(t *testing.T) {
	q, err := parseQuery(`select * from orders`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.fields != nil {
		t.Errorf("expected no projection, got %v", q.fields)
	}
	if len(q.conds) != 0 {
		t.Errorf("expected no conditions, got %v", q.conds)
	}
}

func TestParseQuery_Errors(t *testing.T) {
	tests := []struct {
		name      string
		statement string
		params    []any
	}{
		{"missing select", "FROM c", nil},
		{"missing from", "SELECT *", nil},
		{"missing parameter", "SELECT * FROM c WHERE c.id = ?", nil},
		{"bad operator", "SELECT * FROM c WHERE c.id ! 1", nil},
		{"unterminated string", "SELECT * FROM c WHERE c.id = 'abc", nil},
		{"trailing tokens", "SELECT * FROM c LIMIT 1", nil},
		{"or not supported", "SELECT * FROM c WHERE c.a = 1 OR c.b = 2", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseQuery(tt.statement, tt.params); err == nil {
				t.Errorf("expected an error for %q", tt.statement)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b       any
		want       int
		comparable bool
	}{
		{"a", "b", -1, true},
		{json.Number("10"), json.Number("9.5"), 1, true},
		{json.Number("1"), json.Number("1.0"), 0, true},
		{true, false, 1, true},
		{nil, nil, 0, true},
		{"1", json.Number("1"), 0, false},
		{map[string]any{}, map[string]any{}, 0, false},
	}
	for _, tt := range tests {
		got, ok := compare(tt.a, tt.b)
		if ok != tt.comparable {
			t.Errorf("%v vs %v: expected comparable=%v, got %v", tt.a, tt.b, tt.comparable, ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("%v vs %v: expected %d, got %d", tt.a, tt.b, tt.want, got)
		}
	}
}

func seed(t *testing.T, pageSize int) (*Server, store.Connection) {
	t.Helper()
	srv := New(WithPageSize(pageSize))
	ctx := context.Background()
	conn, err := srv.Dial(ctx, store.Config{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.EnsureDatabase(ctx, "shop", 400); err != nil {
		t.Fatalf("ensure database: %v", err)
	}
	if err := conn.EnsureCollection(ctx, "shop", store.CollectionSettings{Name: "orders", PartitionKeyPath: "/customerId"}, 400, nil); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}

	ref := store.CollectionRef{Database: "shop", Collection: "orders"}
	for _, doc := range []string{
		`{"id":"o1","customerId":"c1","status":"open","total":30}`,
		`{"id":"o2","customerId":"c2","status":"closed","total":10}`,
		`{"id":"o3","customerId":"c1","status":"open","total":20}`,
		`{"id":"o4","customerId":"c2","status":"open","total":40}`,
	} {
		if _, err := conn.CreateItem(ctx, ref, store.Document(doc), store.ItemOptions{}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	return srv, conn
}

func drain(t *testing.T, conn store.Connection, q store.Query) ([]string, int) {
	t.Helper()
	ref := store.CollectionRef{Database: "shop", Collection: "orders"}
	var ids []string
	pages := 0
	continuation := ""
	for {
		page, err := conn.QueryItems(context.Background(), ref, q, continuation, store.ItemOptions{})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		pages++
		for _, doc := range page.Items {
			var m map[string]any
			if err := json.Unmarshal(doc, &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			ids = append(ids, m["id"].(string))
		}
		if page.Continuation == "" {
			return ids, pages
		}
		continuation = page.Continuation
	}
}

func TestQueryItems(t *testing.T) {
	_, conn := seed(t, DefaultPageSize)

	tests := []struct {
		name  string
		query store.Query
		want  []string
	}{
		{"all in insertion order", store.Query{Statement: "SELECT * FROM c"}, []string{"o1", "o2", "o3", "o4"}},
		{"filter by parameter", store.Query{Statement: "SELECT * FROM c WHERE c.status = ?", Parameters: []any{"open"}}, []string{"o1", "o3", "o4"}},
		{"numeric range", store.Query{Statement: "SELECT * FROM c WHERE c.total > ? AND c.total <= 30", Parameters: []any{10}}, []string{"o1", "o3"}},
		{"order by", store.Query{Statement: "SELECT * FROM c ORDER BY c.total"}, []string{"o2", "o3", "o1", "o4"}},
		{"order by desc", store.Query{Statement: "SELECT * FROM c WHERE c.status != 'closed' ORDER BY c.total DESC"}, []string{"o4", "o1", "o3"}},
		{"partition scoped", store.Query{Statement: "SELECT * FROM c", PartitionKey: "c1"}, []string{"o1", "o3"}},
		{"no matches", store.Query{Statement: "SELECT * FROM c WHERE c.status = 'void'"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ids, _ := drain(t, conn, tt.query); !reflect.DeepEqual(ids, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, ids)
			}
		})
	}
}

func TestQueryItems_Pages(t *testing.T) {
	_, conn := seed(t, 3)

	ids, pages := drain(t, conn, store.Query{Statement: "SELECT * FROM c"})
	if expected := []string{"o1", "o2", "o3", "o4"}; !reflect.DeepEqual(ids, expected) {
		t.Errorf("expected %v, got %v", expected, ids)
	}
	if pages != 2 {
		t.Errorf("expected 2 pages, got %d", pages)
	}
}

func TestQueryItems_Projection(t *testing.T) {
	_, conn := seed(t, DefaultPageSize)
	ref := store.CollectionRef{Database: "shop", Collection: "orders"}

	page, err := conn.QueryItems(context.Background(), ref, store.Query{Statement: "SELECT c.id, c.total FROM c WHERE c.id = 'o2'"}, "", store.ItemOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(page.Items))
	}
	var got map[string]any
	if err := json.Unmarshal(page.Items[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if expected := map[string]any{"id": "o2", "total": float64(10)}; !reflect.DeepEqual(got, expected) {
		t.Errorf("expected %v, got %v", expected, got)
	}
	if etag := store.ETagOf(page.Items[0]); etag != "" {
		t.Errorf("expected no etag in projection, got %q", etag)
	}

	page, err = conn.QueryItems(context.Background(), ref, store.Query{Statement: "SELECT c.id, c._etag FROM c WHERE c.id = 'o2'"}, "", store.ItemOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(page.Items))
	}
	if store.ETagOf(page.Items[0]) == "" {
		t.Error("expected the projected etag")
	}
}
