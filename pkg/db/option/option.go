// Package option builds composable gorm query modifiers for list endpoints.
package option

import (
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/receivables/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption mutates a query before execution.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryOptionFunc func(db *gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

type Operator string

const (
	EQ    Operator = "="
	NEQ   Operator = "<>"
	GT    Operator = ">"
	GTE   Operator = ">="
	LT    Operator = "<"
	LTE   Operator = "<="
	IN    Operator = "IN"
	ILIKE Operator = "ILIKE"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds a single field condition. Field names must come from code, never from input.
func ApplyOperator(cond Condition) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		sql, arg, ok := render(cond)
		if !ok {
			return db
		}
		return db.Where(sql, arg)
	})
}

// AnyOf ORs the given conditions together.
func AnyOf(conds ...Condition) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		clauses := make([]string, 0, len(conds))
		args := make([]any, 0, len(conds))
		for _, cond := range conds {
			sql, arg, ok := render(cond)
			if !ok {
				continue
			}
			clauses = append(clauses, sql)
			args = append(args, arg)
		}
		if len(clauses) == 0 {
			return db
		}
		return db.Where("("+strings.Join(clauses, " OR ")+")", args...)
	})
}

// likeEscaper makes LIKE wildcards in user text match literally. '!' is the
// escape character since backslash is itself special in MySQL literals.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func render(cond Condition) (string, any, bool) {
	field := strings.TrimSpace(cond.Field)
	if field == "" {
		return "", nil, false
	}
	switch cond.Operator {
	case IN:
		return fmt.Sprintf("%s IN ?", field), cond.Value, true
	case ILIKE:
		// LOWER(..) LIKE keeps the match case-insensitive on every dialect.
		pattern := "%" + likeEscaper.Replace(strings.ToLower(fmt.Sprint(cond.Value))) + "%"
		return fmt.Sprintf("LOWER(%s) LIKE ? ESCAPE '!'", field), pattern, true
	case "":
		return fmt.Sprintf("%s = ?", field), cond.Value, true
	default:
		return fmt.Sprintf("%s %s ?", field, cond.Operator), cond.Value, true
	}
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

func WithQuerySortBy(sortBy, orderBy string, allow map[string]bool) QuerySortBy {
	return QuerySortBy{SortBy: sortBy, OrderBy: orderBy, Allow: allow}
}

// WithSortBy orders by an allow-listed column, defaulting to created_at desc.
func WithSortBy(sort QuerySortBy) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		column := strings.ToLower(strings.TrimSpace(sort.SortBy))
		if column == "" || !sort.Allow[column] {
			column = "created_at"
		}
		direction := "desc"
		if strings.EqualFold(strings.TrimSpace(sort.OrderBy), "asc") {
			direction = "asc"
		}
		return db.Order(fmt.Sprintf("%s %s, id %s", column, direction, direction))
	})
}

func WithLimit(limit int) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}

// ApplyPagination applies a (created_at, id) keyset cursor and fetches one
// extra row so callers can detect a further page.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		size := page.PageSize
		if size <= 0 {
			size = 25
		}
		if strings.TrimSpace(page.PageToken) != "" {
			if key, err := pagination.ParseToken(page.PageToken); err == nil {
				db = Before(key.CreatedAt, key.ID).Apply(db)
			}
		}
		return db.Limit(size + 1)
	})
}

// Before keeps rows strictly after (createdAt, id) in newest-first order.
func Before(createdAt time.Time, id int64) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("((created_at < ?) OR (created_at = ? AND id < ?))", createdAt, createdAt, id)
	})
}
