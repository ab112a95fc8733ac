// Package model defines shared data structures.
package model

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// DefaultCheckEveryMinutes is the re-check interval for newly registered items.
const DefaultCheckEveryMinutes = 60

// Status is the processing state of a tracked item.
type Status uint8

const (
	StatusNew Status = iota
	StatusOK
	StatusChanged
	StatusError
)

var statusNames = [...]string{
	StatusNew:     "new",
	StatusOK:      "ok",
	StatusChanged: "changed",
	StatusError:   "error",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Sticky reports whether the status removes an item from automatic due-selection.
func (s Status) Sticky() bool {
	return s == StatusChanged || s == StatusError
}

// ParseStatus converts a stored status name back to a Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// Value implements driver.Valuer; statuses are stored by name.
func (s Status) Value() (driver.Value, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return s.String(), nil
}

// Scan implements sql.Scanner.
func (s *Status) Scan(src interface{}) error {
	var name string
	switch v := src.(type) {
	case string:
		name = v
	case []byte:
		name = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Status", src)
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Availability is a tri-state stock signal.
type Availability int8

const (
	AvailabilityUnknown Availability = iota
	InStock
	OutOfStock
)

func (a Availability) String() string {
	switch a {
	case InStock:
		return "in_stock"
	case OutOfStock:
		return "out_of_stock"
	default:
		return "unknown"
	}
}

// Known reports whether the availability was resolved either way.
func (a Availability) Known() bool {
	return a == InStock || a == OutOfStock
}

// Value stores availability as a nullable boolean; unknown becomes NULL.
func (a Availability) Value() (driver.Value, error) {
	switch a {
	case InStock:
		return true, nil
	case OutOfStock:
		return false, nil
	default:
		return nil, nil
	}
}

// Scan implements sql.Scanner for nullable boolean columns.
func (a *Availability) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = AvailabilityUnknown
	case bool:
		*a = fromBool(v)
	case int64:
		*a = fromBool(v != 0)
	default:
		return fmt.Errorf("cannot scan %T into Availability", src)
	}
	return nil
}

func (a Availability) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Availability) UnmarshalText(text []byte) error {
	switch string(text) {
	case "in_stock":
		*a = InStock
	case "out_of_stock":
		*a = OutOfStock
	case "unknown", "":
		*a = AvailabilityUnknown
	default:
		return fmt.Errorf("unknown availability %q", text)
	}
	return nil
}

func fromBool(b bool) Availability {
	if b {
		return InStock
	}
	return OutOfStock
}

// Item is a tracked product page.
type Item struct {
	ID                int64      `json:"id"`
	URL               string     `json:"url"`
	Site              string     `json:"site"`
	Name              string     `json:"name,omitempty"`          // empty until first resolved
	CurrentPrice      *float64   `json:"current_price,omitempty"` // nullable
	CheckEveryMinutes int        `json:"check_every_minutes"`
	NextCheckAt       *time.Time `json:"next_check_at,omitempty"` // nullable: never scheduled
	Status            Status     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// CheckInterval returns the item's re-check interval. A non-positive
// CheckEveryMinutes falls back to DefaultCheckEveryMinutes.
func (it Item) CheckInterval() time.Duration {
	mins := it.CheckEveryMinutes
	if mins <= 0 {
		mins = DefaultCheckEveryMinutes
	}
	return time.Duration(mins) * time.Minute
}

// PriceHistoryEntry is one append-only price observation for an item.
type PriceHistoryEntry struct {
	ID      int64        `json:"id"`
	ItemID  int64        `json:"item_id"`
	Price   *float64     `json:"price,omitempty"`
	InStock Availability `json:"in_stock"`
	SeenAt  time.Time    `json:"seen_at"`
}

// Alert describes a price drop worth notifying about.
type Alert struct {
	Name          string
	Price         float64
	PreviousPrice float64
	Currency      string
	URL           string
}
