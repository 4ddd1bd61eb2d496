package store

import (
	"context"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/relabs-tech/geocatalog/core"
)

// TableStatistics holds the row count of one table
type TableStatistics struct {
	Table string `json:"table"`
	Count int64  `json:"count"`
}

// Statistics represents information about the catalog tables
type Statistics struct {
	Tables           []TableStatistics     `json:"tables"`
	MetadataByStatus map[core.Status]int64 `json:"metadata_by_status"`
	Outbox           OutboxHealth          `json:"outbox"`
}

// GetStatistics counts the rows of every table and the metadata records per status
func GetStatistics(ctx context.Context, q sqlx.ExtContext) (*Statistics, error) {
	names := []string{"users", "metadata", "outbox"}
	for _, t := range SubrecordTables {
		names = append(names, t.Name)
	}
	// sorted so that the ETag does not depend on declaration order
	sort.Strings(names)

	s := &Statistics{Tables: []TableStatistics{}, MetadataByStatus: map[core.Status]int64{}}
	for _, name := range names {
		var count int64
		if err := sqlx.GetContext(ctx, q, &count, `SELECT count(*) FROM `+name); err != nil {
			return nil, classify(err)
		}
		s.Tables = append(s.Tables, TableStatistics{Table: name, Count: count})
	}

	for _, status := range core.Statuses {
		s.MetadataByStatus[status] = 0
	}
	rows := []struct {
		Status core.Status `db:"status"`
		Count  int64       `db:"count"`
	}{}
	err := sqlx.SelectContext(ctx, q, &rows, `SELECT status, count(*) AS count FROM metadata GROUP BY status`)
	if err != nil {
		return nil, classify(err)
	}
	for _, row := range rows {
		s.MetadataByStatus[row.Status] = row.Count
	}

	outbox, err := GetOutboxHealth(ctx, q)
	if err != nil {
		return nil, err
	}
	s.Outbox = outbox
	return s, nil
}
