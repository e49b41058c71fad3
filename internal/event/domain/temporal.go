package domain

import "time"

const DateLayout = "2006-01-02"

// DeriveTemporal decomposes t in loc. Week of year is the ISO 8601 week and
// day of week counts from Sunday = 0.
func DeriveTemporal(t time.Time, loc *time.Location) Temporal {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	_, week := local.ISOWeek()
	month := int(local.Month())

	return Temporal{
		EventDate:  local.Format(DateLayout),
		Year:       local.Year(),
		Month:      month,
		Day:        local.Day(),
		DayOfWeek:  int(local.Weekday()),
		Hour:       local.Hour(),
		Minute:     local.Minute(),
		Quarter:    (month + 2) / 3,
		WeekOfYear: week,
	}
}

// SetOccurredAt is the only writer of OccurredAt and the temporal fields.
// The timestamp is stored in UTC at microsecond precision.
func (e *Event) SetOccurredAt(t time.Time, loc *time.Location) {
	e.OccurredAt = t.UTC().Truncate(time.Microsecond)
	e.Temporal = DeriveTemporal(e.OccurredAt, loc)
}

// DateOf formats t as an event date in loc.
func DateOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}
