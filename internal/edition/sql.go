package edition

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Value はDATE型カラムへ"YYYY-MM-DD"として書き込む。
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Scan はDATE型カラムを読み込む。lib/pqはDATEをUTC 0時のtime.Timeとして返す。
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = DateOf(v)
		return nil
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	default:
		return fmt.Errorf("edition.Date: 未対応の型です: %T", src)
	}
}
