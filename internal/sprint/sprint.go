// Package sprint maps ISO weeks to two-week sprint labels.
package sprint

import (
	"fmt"
	"time"
)

// NotFound is returned for weeks outside the calendar.
const NotFound = "Sprint not found"

// Calendar is a precomputed week key to sprint label table. It is read-only after New.
type Calendar struct {
	sprints map[string]string
	now     func() time.Time
}

// New builds the table from start through now, one week at a time. Two consecutive
// weeks share a sprint. The counter resets on a new calendar year only between sprints,
// so a sprint that straddles New Year keeps the previous year's label.
func New(start time.Time, now func() time.Time) *Calendar {
	if now == nil {
		now = time.Now
	}
	c := &Calendar{
		sprints: make(map[string]string),
		now:     now,
	}

	end := now()
	inSprint := false
	startYear := start.Year()
	counter := 1
	for date := start; !date.After(end); date = date.AddDate(0, 0, 7) {
		if date.Year() > startYear && !inSprint {
			startYear = date.Year()
			counter = 1
		}
		c.sprints[Key(date)] = fmt.Sprintf("%d Sprint %d", startYear, counter)
		if inSprint {
			inSprint = false
			counter++
		} else {
			inSprint = true
		}
	}
	return c
}

// Key returns the "year_isoWeek" index of t. Late-December dates already in ISO week 1
// or 2 are filed under the following year.
func Key(t time.Time) string {
	_, week := t.ISOWeek()
	year := t.Year()
	if t.Month() == time.December && week < 3 {
		year++
	}
	return fmt.Sprintf("%d_%d", year, week)
}

// Lookup returns the sprint label for the week containing t.
func (c *Calendar) Lookup(t time.Time) string {
	if label, ok := c.sprints[Key(t)]; ok {
		return label
	}
	return NotFound
}

// CurrentSprintID returns the sprint label for the current week.
func (c *Calendar) CurrentSprintID() string {
	return c.Lookup(c.now())
}
