package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const defaultSheetsURL = "https://sheets.googleapis.com/v4"

// SheetsClient talks to the Google Sheets values API.
type SheetsClient struct {
	baseURL string
	client  *http.Client
}

func NewSheetsClient(client *http.Client, baseURL string) *SheetsClient {
	if baseURL == "" {
		baseURL = defaultSheetsURL
	}
	return &SheetsClient{baseURL: baseURL, client: client}
}

type valueRange struct {
	Range          string  `json:"range,omitempty"`
	MajorDimension string  `json:"majorDimension,omitempty"`
	Values         [][]any `json:"values"`
}

// Values reads a range as formatted strings. Trailing empty cells are
// omitted by the API, so rows may be shorter than the header.
func (c *SheetsClient) Values(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	u := fmt.Sprintf("%s/spreadsheets/%s/values/%s?majorDimension=ROWS",
		c.baseURL, url.PathEscape(spreadsheetID), url.PathEscape(rng))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var res valueRange
	if err := doJSON(c.client, req, &res); err != nil {
		return nil, fmt.Errorf("get values %s: %w", rng, err)
	}

	rows := make([][]string, len(res.Values))
	for i, r := range res.Values {
		row := make([]string, len(r))
		for j, v := range r {
			if v != nil {
				row[j] = fmt.Sprint(v)
			}
		}
		rows[i] = row
	}
	return rows, nil
}

// Append adds one row after the last row of the table found in rng. Values
// are stored as typed: "0012" stays text and "=..." is not evaluated.
func (c *SheetsClient) Append(ctx context.Context, spreadsheetID, rng string, row []string) error {
	u := fmt.Sprintf("%s/spreadsheets/%s/values/%s:append?valueInputOption=RAW&insertDataOption=INSERT_ROWS",
		c.baseURL, url.PathEscape(spreadsheetID), url.PathEscape(rng))
	return c.write(ctx, http.MethodPost, u, rng, row)
}

// Update overwrites the cells in rng with row.
func (c *SheetsClient) Update(ctx context.Context, spreadsheetID, rng string, row []string) error {
	u := fmt.Sprintf("%s/spreadsheets/%s/values/%s?valueInputOption=RAW",
		c.baseURL, url.PathEscape(spreadsheetID), url.PathEscape(rng))
	return c.write(ctx, http.MethodPut, u, rng, row)
}

func (c *SheetsClient) write(ctx context.Context, method, u, rng string, row []string) error {
	values := make([]any, len(row))
	for i, v := range row {
		values[i] = v
	}
	body, err := json.Marshal(valueRange{Range: rng, MajorDimension: "ROWS", Values: [][]any{values}})
	if err != nil {
		return fmt.Errorf("encode values: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := doJSON(c.client, req, nil); err != nil {
		return fmt.Errorf("write values %s: %w", rng, err)
	}
	return nil
}
