package model

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// BoundingBox is a geographic rectangle in decimal degrees
type BoundingBox struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Check validates the coordinate ranges. The box may cross the antimeridian, so
// west is allowed to be greater than east.
func (b BoundingBox) Check() map[string]string {
	problems := map[string]string{}
	lat := func(name string, v float64) {
		if v < -90 || v > 90 {
			problems[name] = "latitude must be between -90 and 90"
		}
	}
	lon := func(name string, v float64) {
		if v < -180 || v > 180 {
			problems[name] = "longitude must be between -180 and 180"
		}
	}
	lat("north", b.North)
	lat("south", b.South)
	lon("east", b.East)
	lon("west", b.West)
	if len(problems) == 0 && b.South > b.North {
		problems["south"] = "must not be greater than north"
	}
	return problems
}

// Value implements driver.Valuer, the box is stored as JSON text
func (b BoundingBox) Value() (driver.Value, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (b *BoundingBox) Scan(src interface{}) error {
	data, err := jsonColumn(src)
	if err != nil || data == nil {
		return err
	}
	return json.Unmarshal(data, b)
}

// Keywords is a set of keywords which keeps the order of first appearance
type Keywords []string

// Normalize trims the keywords and removes duplicates, keeping the first occurrence.
// The result is never nil.
func (k Keywords) Normalize() Keywords {
	result := Keywords{}
	seen := map[string]bool{}
	for _, keyword := range k {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" || seen[keyword] {
			continue
		}
		seen[keyword] = true
		result = append(result, keyword)
	}
	return result
}

// Value implements driver.Valuer, the keywords are stored as JSON text
func (k Keywords) Value() (driver.Value, error) {
	if k == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(k))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (k *Keywords) Scan(src interface{}) error {
	data, err := jsonColumn(src)
	if err != nil {
		return err
	}
	if data == nil {
		*k = Keywords{}
		return nil
	}
	var keywords []string
	if err := json.Unmarshal(data, &keywords); err != nil {
		return err
	}
	*k = Keywords(keywords).Normalize()
	return nil
}

func jsonColumn(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("cannot scan %T into a JSON column", src)
}
