package httpclient

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
)

// GetCSV fetches a usage report rendered as CSV (the shape Graph's
// reports endpoints return for things like getOffice365ActiveUserDetail)
// and parses it into rows, header included as rows[0]. Routed through
// DoRaw so a CSV fetch gets the same retry/backoff and 401-invalidate
// handling as every JSON call.
func (c *Client) GetCSV(ctx context.Context, tenantID, url string) ([][]string, error) {
	body, err := c.DoRaw(ctx, Request{Method: http.MethodGet, URL: url, TenantID: tenantID})
	if err != nil {
		return nil, err
	}

	rows, err := ParseCSV(bytes.NewReader(body))
	if err != nil {
		return nil, newError(KindParse, 0, "parse csv body", err)
	}
	return rows, nil
}

// ParseCSV reads all rows from r using encoding/csv, tolerating rows with
// a varying field count (Graph usage reports sometimes trail a row with
// fewer columns than the header).
func ParseCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// CSVToMaps converts parsed rows (header-first) into one map per data row
// keyed by header column name, which is how the usage-report consumer
// looks up fields like "Last Activity Date".
func CSVToMaps(rows [][]string) []map[string]string {
	if len(rows) == 0 {
		return nil
	}
	header := rows[0]
	out := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		m := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}
