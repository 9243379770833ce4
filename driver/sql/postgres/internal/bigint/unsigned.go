package bigint

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"math"
)

// Unsigned returns a type that can be used in SQL statements and scan
// operations to store an unsigned 64-bit integer in a BIGINT column.
//
// Values are stored verbatim, so they remain readable by humans and by other
// SQL clients. Values above [math.MaxInt64] cannot be represented and produce
// an error, as do negative values read from the database.
func Unsigned[T ~uint64](target *T) interface {
	driver.Valuer
	sql.Scanner
} {
	return value[T]{target}
}

type value[T ~uint64] struct {
	Target *T
}

func (v value[T]) Scan(src any) error {
	switch src := src.(type) {
	case int64:
		if src < 0 {
			return fmt.Errorf("cannot scan negative value %d into %T", src, v.Target)
		}
		*v.Target = T(src)
		return nil
	case nil:
		return fmt.Errorf("cannot scan NULL into %T", v.Target)
	}

	return fmt.Errorf("cannot scan %T into %T", src, v.Target)
}

func (v value[T]) Value() (driver.Value, error) {
	if uint64(*v.Target) > math.MaxInt64 {
		return nil, fmt.Errorf("%d exceeds the maximum BIGINT value", uint64(*v.Target))
	}
	return int64(*v.Target), nil
}
