package dynamo

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docstore/store"
)

var (
	fromClause    = regexp.MustCompile(`(?i)\bFROM\s+([A-Za-z_]\w*)`)
	whereClause   = regexp.MustCompile(`(?i)\bWHERE\b`)
	orderByClause = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)
)

// rewriteStatement turns a collection query into PartiQL against table. The alias
// after FROM is replaced by the quoted table name and stripped from paths. When
// scoped, a partition key condition is added as the first parameter.
func rewriteStatement(stmt, table string, scoped bool) (string, error) {
	m := fromClause.FindStringSubmatchIndex(stmt)
	if m == nil {
		return "", fmt.Errorf("%w: statement has no FROM clause", store.ErrInvalidArgument)
	}
	alias := stmt[m[2]:m[3]]
	out := stmt[:m[0]] + `FROM "` + table + `"` + stmt[m[1]:]
	out = stripAlias(out, alias)

	if !scoped {
		return out, nil
	}

	const pkCond = `"` + AttrPartitionKey + `" = ?`
	orderAt := len(out)
	if loc := orderByClause.FindStringIndex(out); loc != nil {
		orderAt = loc[0]
	}
	if loc := whereClause.FindStringIndex(out); loc != nil && loc[0] < orderAt {
		cond := strings.TrimSpace(out[loc[1]:orderAt])
		rest := out[orderAt:]
		if rest != "" {
			rest = " " + rest
		}
		return out[:loc[0]] + "WHERE " + pkCond + " AND (" + cond + ")" + rest, nil
	}
	head := strings.TrimRight(out[:orderAt], " ")
	rest := out[orderAt:]
	if rest != "" {
		rest = " " + rest
	}
	return head + " WHERE " + pkCond + rest, nil
}

// stripAlias removes "alias." prefixes outside string literals.
func stripAlias(stmt, alias string) string {
	prefix := alias + "."
	var b strings.Builder
	inString := false
	for i := 0; i < len(stmt); i++ {
		ch := stmt[i]
		if ch == '\'' {
			inString = !inString
		}
		if !inString && strings.HasPrefix(stmt[i:], prefix) && (i == 0 || !isIdentByte(stmt[i-1])) {
			i += len(prefix) - 1
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' || c == '"' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// QueryItems implements store.Transport using PartiQL. The continuation is the
// DynamoDB NextToken. Expired items are dropped from pages.
func (c *Conn) QueryItems(ctx context.Context, ref store.CollectionRef, q store.Query, continuation string, opts store.ItemOptions) (store.QueryPage, error) {
	scoped := q.PartitionKey != ""
	stmt, err := rewriteStatement(q.Statement, TableName(ref), scoped)
	if err != nil {
		return store.QueryPage{}, failure(http.StatusBadRequest, err)
	}

	params := make([]types.AttributeValue, 0, len(q.Parameters)+1)
	if scoped {
		params = append(params, &types.AttributeValueMemberS{Value: q.PartitionKey})
	}
	for i, p := range q.Parameters {
		av, err := paramValue(p)
		if err != nil {
			return store.QueryPage{}, failure(http.StatusBadRequest, fmt.Errorf("parameter %d: %w", i, err))
		}
		params = append(params, av)
	}

	in := &dynamodb.ExecuteStatementInput{
		Statement:      aws.String(stmt),
		ConsistentRead: aws.Bool(true),
	}
	if len(params) > 0 {
		in.Parameters = params
	}
	if continuation != "" {
		in.NextToken = aws.String(continuation)
	}

	c.opts.logger.DebugContext(ctx, "executing statement", "collection", ref.String(), "statement", stmt)
	out, err := c.api.ExecuteStatement(ctx, in, withSessionToken(opts.SessionToken)...)
	if err != nil {
		return store.QueryPage{}, mapError(err, ref)
	}

	now := c.opts.now()
	page := store.QueryPage{SessionToken: sessionTokenFrom(out.ResultMetadata)}
	for _, item := range out.Items {
		if IsExpired(item, now) {
			continue
		}
		doc, err := itemToDocument(item)
		if err != nil {
			return store.QueryPage{}, err
		}
		page.Items = append(page.Items, doc)
	}
	if out.NextToken != nil {
		page.Continuation = *out.NextToken
	}
	return page, nil
}
