package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect holds the SQL differences between supported databases.
type Dialect struct {
	name     string
	numbered bool   // $1, $2 placeholders instead of ?
	upsert   string // format with conflict target and assignment list
}

var (
	// Postgres uses $n placeholders and ON CONFLICT upserts.
	Postgres = Dialect{
		name:     "postgres",
		numbered: true,
		upsert:   "ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s",
	}
	// MySQL uses ? placeholders and ON DUPLICATE KEY upserts.
	MySQL = Dialect{
		name:   "mysql",
		upsert: "ON DUPLICATE KEY UPDATE %[2]s = VALUES(%[3]s)",
	}
)

// ParseDialect returns the dialect named s.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	default:
		return Dialect{}, fmt.Errorf("%w: %q", ErrUnknownDialect, s)
	}
}

func (d Dialect) String() string { return d.name }

// rebind rewrites ? placeholders for dialects that number them.
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// onConflict returns the upsert clause updating column when conflict collides.
func (d Dialect) onConflict(conflict, column string) string {
	return fmt.Sprintf(d.upsert, conflict, column, column)
}
