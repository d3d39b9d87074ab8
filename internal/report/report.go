// Package report appends monthly claim rows to a Google Sheet so
// reimbursable outing costs can be handed to payroll.
package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"mealtrack/internal/core"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// Config selects the target spreadsheet and the credentials to use.
// Exactly one of CredentialsFile or CredentialsJSON must be set.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsFile string
	CredentialsJSON string
}

// New creates a Sheets client using service account credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet ID")
	}
	sheetName := strings.TrimSpace(cfg.SheetName)
	if sheetName == "" {
		sheetName = "Claims"
	}

	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		var err error
		credentialsJSON, err = os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     sheetName,
	}, nil
}

// claimRow builds the sheet row for one month summary. Amounts are whole
// won and are written as-is; there is no sub-unit to convert.
func claimRow(userID string, sum core.MonthSummary, now time.Time) []any {
	return []any{
		fmt.Sprintf("%04d-%02d", sum.Year, int(sum.Month)),
		userID,
		sum.Spent,
		sum.Reimbursable,
		sum.Remaining,
		sum.UsagePercent,
		now.Format(time.RFC3339),
	}
}

// AppendClaim appends one row for the given month summary.
func (c *Client) AppendClaim(ctx context.Context, userID string, sum core.MonthSummary) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	month := fmt.Sprintf("%04d-%02d", sum.Year, int(sum.Month))
	row := claimRow(userID, sum, time.Now())

	rng := fmt.Sprintf("%s!A:G", c.sheetName)
	vr := &gsheet.ValueRange{Values: [][]any{row}}

	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append claim row to %s: %w", c.sheetName, err)
	}

	ref := month
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	return ref, nil
}
