package option

import (
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/invoicedesk/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption mutates a query before it is executed.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryFunc func(db *gorm.DB) *gorm.DB

func (f queryFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

type Operator string

const (
	EQ        Operator = "="
	NEQ       Operator = "<>"
	GT        Operator = ">"
	GTE       Operator = ">="
	LT        Operator = "<"
	LTE       Operator = "<="
	IsNull    Operator = "IS NULL"
	IsNotNull Operator = "IS NOT NULL"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds a single column comparison. Field must be a trusted column name.
func ApplyOperator(cond Condition) QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		switch cond.Operator {
		case IsNull, IsNotNull:
			return db.Where(fmt.Sprintf("%s %s", cond.Field, cond.Operator))
		case "":
			return db.Where(fmt.Sprintf("%s = ?", cond.Field), cond.Value)
		default:
			return db.Where(fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), cond.Value)
		}
	})
}

type QuerySortBy struct {
	SortBy    string
	Direction string
	Default   string
	Allow     map[string]bool
}

// WithSortBy orders by an allow-listed column, falling back to Default then created_at.
func WithSortBy(q QuerySortBy) QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		column := strings.TrimSpace(q.SortBy)
		if column == "" || !q.Allow[column] {
			column = q.Default
		}
		if column == "" {
			column = "created_at"
		}
		direction := "desc"
		if strings.EqualFold(strings.TrimSpace(q.Direction), "asc") {
			direction = "asc"
		}
		return db.Order(fmt.Sprintf("%s %s", column, direction))
	})
}

func WithLimit(limit int) QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}

func WithPreload(associations ...string) QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		for _, assoc := range associations {
			db = db.Preload(assoc)
		}
		return db
	})
}

// ApplyPagination applies a keyset cursor over (created_at, id) descending and
// fetches one extra row so callers can detect another page.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		size := page.PageSize
		if size <= 0 {
			size = 10
		}
		if token := strings.TrimSpace(page.PageToken); token != "" {
			cursor, err := pagination.DecodeCursor(token)
			if err == nil && cursor.CreatedAt != "" {
				if createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt); err == nil {
					db = db.Where("created_at < ? OR (created_at = ? AND id < ?)", createdAt, createdAt, cursor.ID)
				}
			}
		}
		return db.Limit(size + 1)
	})
}
