package processor

import (
	"fmt"
	"time"

	"stocklake/internal/etlerr"
	"stocklake/models"
)

// Partition column names derived from the bar timestamp.
const (
	DateColumn     = "date"
	OnlyDateColumn = "only_date"
	HourColumn     = "hour"
)

// DeriveTimePartitions parses the date column into a UTC timestamp and adds
// only_date (calendar day) and hour (0-23) columns used to partition the
// intraday tables. A null or unparseable date fails the table.
func DeriveTimePartitions(tbl *models.Table) error {
	src, ok := tbl.Column(DateColumn)
	if !ok {
		return etlerr.Errorf(etlerr.Schema, "derive partitions", "missing %q column", DateColumn)
	}
	n := tbl.NumRows()
	stamps := make([]any, n)
	days := make([]any, n)
	hours := make([]any, n)
	for i, v := range src.Values {
		ts, err := asTimestamp(v)
		if err != nil {
			return etlerr.Errorf(etlerr.Schema, "derive partitions", "row %d: %w", i, err)
		}
		stamps[i] = ts
		days[i] = TruncateDate(ts)
		hours[i] = int64(ts.Hour())
	}

	if err := tbl.SetColumn(&models.Column{Name: DateColumn, Kind: models.KindTimestamp, Values: stamps}); err != nil {
		return etlerr.New(etlerr.Schema, "derive partitions", err)
	}
	if err := tbl.SetColumn(&models.Column{Name: OnlyDateColumn, Kind: models.KindDate, Values: days}); err != nil {
		return etlerr.New(etlerr.Schema, "derive partitions", err)
	}
	if err := tbl.SetColumn(&models.Column{Name: HourColumn, Kind: models.KindInt64, Values: hours}); err != nil {
		return etlerr.New(etlerr.Schema, "derive partitions", err)
	}
	return nil
}

func asTimestamp(v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("null date")
	case time.Time:
		return x.UTC(), nil
	case string:
		return ParseTimestamp(x)
	}
	return time.Time{}, fmt.Errorf("date has unexpected type %T", v)
}
