package dynamo

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docstore/store"
)

func TestAttributeConversion_KeepsDocumentShape(t *testing.T) {
	in := `{"id":"o1","big":12345678901234567890,"price":0.1,"tags":["a","b"],"address":{"city":"Oslo","zip":null},"paid":true}`

	m, err := store.DecodeDocument(store.Document(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	item, err := toAttributeMap(m)
	if err != nil {
		t.Fatalf("toAttributeMap: %v", err)
	}
	if n := item["big"].(*types.AttributeValueMemberN).Value; n != "12345678901234567890" {
		t.Errorf("expected exact number text, got %s", n)
	}

	out, err := itemToDocument(item)
	if err != nil {
		t.Fatalf("itemToDocument: %v", err)
	}

	var want, got any
	_ = json.Unmarshal([]byte(in), &want)
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	wantJSON, _ := json.Marshal(want)
	gotJSON, _ := json.Marshal(got)
	if string(wantJSON) != string(gotJSON) {
		t.Errorf("expected %s, got %s", wantJSON, gotJSON)
	}
}

func TestItemToDocument_HidesSystemAttributes(t *testing.T) {
	item := map[string]types.AttributeValue{
		AttrID:           s("o1"),
		AttrPartitionKey: s("c1"),
		AttrETag:         s(`"e"`),
		AttrTTL:          numberAttr(1),
		AttrUniqueKeys:   &types.AttributeValueMemberL{Value: []types.AttributeValue{s("x")}},
	}

	out, err := itemToDocument(item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, hidden := range []string{AttrPartitionKey, AttrTTL, AttrUniqueKeys} {
		if _, ok := doc[hidden]; ok {
			t.Errorf("expected %s to be hidden", hidden)
		}
	}
	if doc[AttrETag] != `"e"` {
		t.Errorf("expected _etag to be kept, got %v", doc[AttrETag])
	}
}

func TestFromAttributeValue_Sets(t *testing.T) {
	v, err := fromAttributeValue(&types.AttributeValueMemberNS{Value: []string{"1", "2.5"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list := v.([]any)
	if len(list) != 2 || list[1] != json.Number("2.5") {
		t.Errorf("expected [1 2.5], got %v", list)
	}
}

func TestParamValue(t *testing.T) {
	tests := []struct {
		name  string
		param any
		check func(types.AttributeValue) bool
	}{
		{"string", "open", func(av types.AttributeValue) bool {
			v, ok := av.(*types.AttributeValueMemberS)
			return ok && v.Value == "open"
		}},
		{"int", 42, func(av types.AttributeValue) bool {
			v, ok := av.(*types.AttributeValueMemberN)
			return ok && v.Value == "42"
		}},
		{"bool", true, func(av types.AttributeValue) bool {
			v, ok := av.(*types.AttributeValueMemberBOOL)
			return ok && v.Value
		}},
		{"nil", nil, func(av types.AttributeValue) bool {
			_, ok := av.(*types.AttributeValueMemberNULL)
			return ok
		}},
		{"struct", struct {
			City string `json:"city"`
		}{"Oslo"}, func(av types.AttributeValue) bool {
			v, ok := av.(*types.AttributeValueMemberM)
			return ok && stringAttr(v.Value, "city") == "Oslo"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			av, err := paramValue(tt.param)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.check(av) {
				t.Errorf("unexpected attribute value %#v", av)
			}
		})
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Unix(1000, 0)

	tests := []struct {
		name string
		item map[string]types.AttributeValue
		want bool
	}{
		{"no ttl", map[string]types.AttributeValue{}, false},
		{"future", map[string]types.AttributeValue{AttrTTL: numberAttr(1001)}, false},
		{"now", map[string]types.AttributeValue{AttrTTL: numberAttr(1000)}, true},
		{"past", map[string]types.AttributeValue{AttrTTL: numberAttr(999)}, true},
		{"wrong type", map[string]types.AttributeValue{AttrTTL: s("999")}, false},
		{"unparseable", map[string]types.AttributeValue{AttrTTL: &types.AttributeValueMemberN{Value: "x"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.item, now); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
