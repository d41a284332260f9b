// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loader

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"slices"

	"github.com/jackc/pgx/v5"
)

// table is a header plus string rows. Next returns io.EOF after the last row.
type table interface {
	Header() []string
	Next() ([]string, error)
	Close() error
}

func column(t table, location, name string) (int, error) {
	i := slices.Index(t.Header(), name)
	if i < 0 {
		return 0, fmt.Errorf("%w: %s has no column %q (have %v)", ErrParse, location, name, t.Header())
	}
	return i, nil
}

// ============================================================================
// CSV
// ============================================================================

type csvTable struct {
	rc     io.ReadCloser
	r      *csv.Reader
	header []string
}

func openCSV(ctx context.Context, opener Opener, location string) (*csvTable, error) {
	rc, err := opener.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(rc)
	header, err := r.Read()
	if err != nil {
		rc.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: %s is empty", ErrParse, location)
		}
		return nil, fmt.Errorf("%w: %s header: %v", ErrParse, location, err)
	}
	return &csvTable{rc: rc, r: r, header: header}, nil
}

func (c *csvTable) Header() []string        { return c.header }
func (c *csvTable) Next() ([]string, error) { return c.r.Read() }
func (c *csvTable) Close() error            { return c.rc.Close() }

// ============================================================================
// Postgres
// ============================================================================

type queryTable struct {
	rows   pgx.Rows
	header []string
}

func openQuery(ctx context.Context, q Querier, sql string) (*queryTable, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: no database connection", ErrSource)
	}
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrSource, err)
	}
	fields := rows.FieldDescriptions()
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Name
	}
	return &queryTable{rows: rows, header: header}, nil
}

func (q *queryTable) Header() []string { return q.header }

// Next renders each value as text so CSV and query rows parse alike. NULL
// becomes an empty cell.
func (q *queryTable) Next() ([]string, error) {
	if !q.rows.Next() {
		if err := q.rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSource, err)
		}
		return nil, io.EOF
	}
	values, err := q.rows.Values()
	if err != nil {
		return nil, err
	}
	row := make([]string, len(values))
	for i, v := range values {
		if v != nil {
			row[i] = fmt.Sprint(v)
		}
	}
	return row, nil
}

func (q *queryTable) Close() error {
	q.rows.Close()
	return nil
}
