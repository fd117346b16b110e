package dynamo

import (
	"strings"

	"github.com/jacentio/docstore/store"
)

// System attribute names.
const (
	AttrPartitionKey = "_pk"
	AttrID           = "id"
	AttrETag         = "_etag"
	AttrTTL          = "_ttl"
	AttrUniqueKeys   = "_uk"
)

// Attribute names of unique-key rows.
const (
	AttrUniquePK    = "pk"
	AttrUniqueOwner = "owner"
	AttrUniqueTable = "table"
)

const uniqueTableSuffix = "__unique"

// TableName returns the table backing a collection.
func TableName(ref store.CollectionRef) string {
	return ref.Database + "." + ref.Collection
}

// UniqueTableName returns the unique-key table of a database.
func UniqueTableName(database string) string {
	return database + "." + uniqueTableSuffix
}

// ParseTableName splits a collection table name into its database and collection.
func ParseTableName(table string) (store.CollectionRef, bool) {
	db, coll, ok := strings.Cut(table, ".")
	if !ok || db == "" || coll == "" {
		return store.CollectionRef{}, false
	}
	return store.CollectionRef{Database: db, Collection: coll}, true
}

// UniqueOwner identifies the document holding a unique-key row.
func UniqueOwner(table, partitionKey, id string) string {
	return table + "#" + partitionKey + "#" + id
}
