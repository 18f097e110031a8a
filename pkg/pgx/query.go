package pgx

import (
	"fmt"
	"slices"
	"strings"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/jackc/pgx/v5"
)

// query accumulates SQL text and its positional arguments.
type query struct {
	sql  strings.Builder
	args []any
}

func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *query) String() string { return q.sql.String() }

// tableIdent sanitizes a possibly schema-qualified table name.
func tableIdent(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

func columnIdent(col string) string {
	return pgx.Identifier{col}.Sanitize()
}

// sortedKeys returns the keys of rec in lexical order so that generated SQL is stable.
func sortedKeys(rec crud.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (q *query) where(cond crud.Record) {
	if len(cond) == 0 {
		return
	}
	q.sql.WriteString(" WHERE ")
	for i, k := range sortedKeys(cond) {
		if i > 0 {
			q.sql.WriteString(" AND ")
		}
		fmt.Fprintf(&q.sql, "%s = %s", columnIdent(k), q.arg(cond[k]))
	}
}

// buildStatement renders stmt as PostgreSQL.
func buildStatement(stmt crud.Statement) (*query, error) {
	q := &query{}
	table := tableIdent(stmt.Model.Table)

	switch stmt.Op {
	case crud.OpSelect:
		fmt.Fprintf(&q.sql, "SELECT * FROM %s", table)
		q.where(stmt.Where)
		if stmt.OrderBy != "" {
			fmt.Fprintf(&q.sql, " ORDER BY %s", columnIdent(stmt.OrderBy))
		}
		if stmt.Limit != nil {
			fmt.Fprintf(&q.sql, " LIMIT %s", q.arg(*stmt.Limit))
		}
		if stmt.Offset > 0 {
			fmt.Fprintf(&q.sql, " OFFSET %s", q.arg(stmt.Offset))
		}

	case crud.OpUpdate:
		if len(stmt.Set) == 0 {
			return nil, fmt.Errorf("pgx: update of %s without assignments", stmt.Model.Table)
		}
		if len(stmt.Where) == 0 {
			return nil, fmt.Errorf("pgx: update of %s without WHERE conditions", stmt.Model.Table)
		}
		fmt.Fprintf(&q.sql, "UPDATE %s SET ", table)
		for i, k := range sortedKeys(stmt.Set) {
			if i > 0 {
				q.sql.WriteString(", ")
			}
			fmt.Fprintf(&q.sql, "%s = %s", columnIdent(k), q.arg(stmt.Set[k]))
		}
		q.where(stmt.Where)

	case crud.OpDeleteAll:
		fmt.Fprintf(&q.sql, "DELETE FROM %s", table)

	default:
		return nil, fmt.Errorf("pgx: unsupported operation %d", stmt.Op)
	}
	return q, nil
}

// buildInsert renders an INSERT of rec returning the stored row.
func buildInsert(m crud.Model, rec crud.Record) *query {
	q := &query{}
	fmt.Fprintf(&q.sql, "INSERT INTO %s", tableIdent(m.Table))
	if len(rec) == 0 {
		q.sql.WriteString(" DEFAULT VALUES RETURNING *")
		return q
	}

	keys := sortedKeys(rec)
	cols := make([]string, len(keys))
	vals := make([]string, len(keys))
	for i, k := range keys {
		cols[i] = columnIdent(k)
		vals[i] = q.arg(rec[k])
	}
	fmt.Fprintf(&q.sql, " (%s) VALUES (%s) RETURNING *", strings.Join(cols, ", "), strings.Join(vals, ", "))
	return q
}

// buildByKey renders "<verb> FROM table WHERE pk = $1", eg for verb "SELECT *" or "DELETE".
func buildByKey(verb string, m crud.Model, key any) *query {
	q := &query{}
	fmt.Fprintf(&q.sql, "%s FROM %s WHERE %s = %s", verb, tableIdent(m.Table), columnIdent(m.PrimaryKey), q.arg(key))
	return q
}
