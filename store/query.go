package store

// Query is a SQL-like statement with positional "?" parameters. The identifier
// after FROM is an alias for the active collection:
//
//	SELECT * FROM c WHERE c.status = ? ORDER BY c.createdAt
type Query struct {
	Statement  string
	Parameters []any

	// PartitionKey scopes the query to a single partition when set.
	PartitionKey string
}

// NewQuery builds a query over all partitions.
func NewQuery(statement string, params ...any) *Query {
	return &Query{Statement: statement, Parameters: params}
}

// InPartition returns a copy of q scoped to one partition key value.
func (q *Query) InPartition(partitionKey string) *Query {
	c := *q
	c.Parameters = append([]any(nil), q.Parameters...)
	c.PartitionKey = partitionKey
	return &c
}
