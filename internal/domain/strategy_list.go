package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// StrategyList is an ordered list of strategies stored as JSONB.
// It implements sql.Scanner and driver.Valuer so job rows can carry the
// per-run attempt order without a join table.
type StrategyList []Strategy

// Scan implements the sql.Scanner interface.
func (l *StrategyList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.New("unsupported type for StrategyList")
	}

	if len(data) == 0 {
		*l = StrategyList{}
		return nil
	}

	return json.Unmarshal(data, l)
}

// Value implements the driver.Valuer interface.
func (l StrategyList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}
