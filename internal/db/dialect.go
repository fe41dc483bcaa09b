package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Dialect selects identifier quoting, placeholders and casts.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// Quote quotes a possibly schema-qualified identifier.
func (d Dialect) Quote(ident string) string {
	parts := strings.Split(ident, ".")
	switch d {
	case Postgres:
		return pgx.Identifier(parts).Sanitize()
	case MySQL:
		for i, p := range parts {
			parts[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
		}
	default:
		for i, p := range parts {
			parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
		}
	}
	return strings.Join(parts, ".")
}

// Placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d Dialect) textCast(expr string) string {
	switch d {
	case Postgres:
		return expr + "::text"
	case MySQL:
		return "CAST(" + expr + " AS CHAR)"
	default:
		return "CAST(" + expr + " AS TEXT)"
	}
}

// SQLite has no DEFAULT keyword inside VALUES lists.
func (d Dialect) supportsDefault() bool {
	return d != SQLite
}

func (d Dialect) selectColumn(table, column string) string {
	col := d.Quote(column)
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT %s OFFSET %s",
		d.textCast(col), d.Quote(table), col, d.Placeholder(1), d.Placeholder(2))
}

func (d Dialect) where(preds []Predicate, start int) (string, []any) {
	if len(preds) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(preds))
	var args []any
	n := start
	for _, p := range preds {
		if p.Value == nil {
			clauses = append(clauses, d.Quote(p.Column)+" IS NULL")
			continue
		}
		clauses = append(clauses, d.Quote(p.Column)+" = "+d.Placeholder(n))
		args = append(args, p.Value)
		n++
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (d Dialect) count(table string, preds []Predicate) (string, []any) {
	where, args := d.where(preds, 1)
	return "SELECT COUNT(*) FROM " + d.Quote(table) + where, args
}

func (d Dialect) delete(table string, preds []Predicate) (string, []any, error) {
	if len(preds) == 0 {
		return "", nil, fmt.Errorf("refusing to delete from %s without a filter", table)
	}
	where, args := d.where(preds, 1)
	return "DELETE FROM " + d.Quote(table) + where, args, nil
}

// ConflictAction is what an insert does with a row that collides with an
// existing one on a unique key.
type ConflictAction int

const (
	// ConflictError fails the statement, like a plain INSERT.
	ConflictError ConflictAction = iota
	// ConflictIgnore keeps the existing row and drops the new one.
	ConflictIgnore
	// ConflictUpdate overwrites the existing row with the new values.
	ConflictUpdate
)

// Conflict describes the conflict clause of an insert. Columns is the
// conflict target; MySQL has no target and checks every unique key.
type Conflict struct {
	Columns []string
	Action  ConflictAction
}

// NewConflict builds a Conflict from the seeding scripts' upsert options:
// a comma-separated target and whether duplicates are skipped rather than
// overwritten. A target alone means update; neither means plain insert.
func NewConflict(onConflict string, ignoreDuplicates bool) Conflict {
	var cols []string
	for _, c := range strings.Split(onConflict, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	switch {
	case ignoreDuplicates:
		return Conflict{Columns: cols, Action: ConflictIgnore}
	case len(cols) > 0:
		return Conflict{Columns: cols, Action: ConflictUpdate}
	}
	return Conflict{}
}

func (c Conflict) String() string {
	target := strings.Join(c.Columns, ",")
	switch c.Action {
	case ConflictIgnore:
		if target == "" {
			return "skip duplicates"
		}
		return "skip duplicates on " + target
	case ConflictUpdate:
		return "update on " + target
	}
	return "error"
}

// conflictClause returns the statement's leading verb and the clause that
// follows its VALUES list.
func (d Dialect) conflictClause(on Conflict, cols []string) (verb, tail string, err error) {
	verb = "INSERT INTO"
	action := on.Action
	var set []string
	if action == ConflictUpdate {
		if len(on.Columns) == 0 && d != MySQL {
			return "", "", errors.New("updating on conflict needs target columns")
		}
		target := make(map[string]bool, len(on.Columns))
		for _, c := range on.Columns {
			target[c] = true
		}
		for _, c := range cols {
			if !target[c] {
				set = append(set, c)
			}
		}
		if len(set) == 0 {
			action = ConflictIgnore
		}
	}

	quotedTarget := make([]string, len(on.Columns))
	for i, c := range on.Columns {
		quotedTarget[i] = d.Quote(c)
	}
	onConflict := " ON CONFLICT"
	if len(quotedTarget) > 0 {
		onConflict += " (" + strings.Join(quotedTarget, ", ") + ")"
	}

	switch action {
	case ConflictIgnore:
		if d == MySQL {
			return "INSERT IGNORE INTO", "", nil
		}
		return verb, onConflict + " DO NOTHING", nil
	case ConflictUpdate:
		assign := make([]string, len(set))
		for i, c := range set {
			q := d.Quote(c)
			if d == MySQL {
				assign[i] = q + " = VALUES(" + q + ")"
			} else {
				assign[i] = q + " = excluded." + q
			}
		}
		if d == MySQL {
			return verb, " ON DUPLICATE KEY UPDATE " + strings.Join(assign, ", "), nil
		}
		return verb, onConflict + " DO UPDATE SET " + strings.Join(assign, ", "), nil
	}
	return verb, "", nil
}

// insert builds one multi-row INSERT over the union of the rows' keys.
// Keys missing from a row become DEFAULT (or NULL on SQLite).
func (d Dialect) insert(table string, rows []map[string]any, on Conflict) (string, []any, error) {
	if len(rows) == 0 {
		return "", nil, fmt.Errorf("no rows to insert into %s", table)
	}
	cols := unionColumns(rows)
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("rows for %s have no columns", table)
	}

	verb, tail, err := d.conflictClause(on, cols)
	if err != nil {
		return "", nil, err
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s) VALUES ", verb, d.Quote(table), strings.Join(quoted, ", "))

	args := make([]any, 0, len(rows)*len(cols))
	n := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, c := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			v, ok := row[c]
			if !ok {
				if d.supportsDefault() {
					b.WriteString("DEFAULT")
				} else {
					b.WriteString("NULL")
				}
				continue
			}
			enc, err := d.encode(v)
			if err != nil {
				return "", nil, fmt.Errorf("failed to encode column %s: %w", c, err)
			}
			b.WriteString(d.Placeholder(n))
			args = append(args, enc)
			n++
		}
		b.WriteByte(')')
	}
	b.WriteString(tail)
	return b.String(), args, nil
}

// encode leaves scalars alone. Nested values are passed through for pgx,
// which maps them onto json/jsonb and array columns, and JSON-encoded for
// the database/sql drivers.
func (d Dialect) encode(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any:
		if d == Postgres {
			return v, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return v, nil
}

func unionColumns(rows []map[string]any) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
