package sheets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/angelmondragon/invite-ledger/pkg/config"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
)

// Values are written verbatim; user supplied names must never be parsed as formulas.
const valueInputOption = "RAW"

var (
	errSpreadsheetIDRequired = errors.New("spreadsheet id is required")
	errSheetNameRequired     = errors.New("sheet name is required")
	errCredentialsRequired   = errors.New("service account key or credentials file is required")
	errClientNotInitialized  = errors.New("sheets client not initialized")
)

// Client is a thin wrapper over the Sheets values API bound to one spreadsheet.
type Client struct {
	svc           *gsheets.Service
	spreadsheetID string
	sheetName     string
}

type serviceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// NewClient authenticates with the configured service account.
func NewClient(ctx context.Context, cfg config.SheetsConfig, logg *logger.Logger) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errSpreadsheetIDRequired
	}
	sheetName := strings.TrimSpace(cfg.SheetName)
	if sheetName == "" {
		return nil, errSheetNameRequired
	}

	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "sheet", sheetName), "sheets client initialized")
	}

	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

func clientOptions(cfg config.SheetsConfig) ([]option.ClientOption, error) {
	opts := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	switch {
	case strings.TrimSpace(cfg.ServiceAccountKeyB64) != "":
		creds, err := DecodeServiceAccount(cfg.ServiceAccountKeyB64)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithCredentialsJSON(creds))
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	default:
		return nil, errCredentialsRequired
	}
	return opts, nil
}

// DecodeServiceAccount turns a base64 encoded service account JSON into
// credentials bytes, repairing private keys whose newlines were escaped twice.
func DecodeServiceAccount(b64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("decoding service account key: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing service account key: %w", err)
	}
	var sa serviceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, fmt.Errorf("parsing service account key: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, errors.New("service account key is missing client_email/private_key")
	}
	doc["private_key"] = strings.ReplaceAll(sa.PrivateKey, `\n`, "\n")
	return json.Marshal(doc)
}

// SheetName is the tab the ledger lives on.
func (c *Client) SheetName() string {
	if c == nil {
		return ""
	}
	return c.sheetName
}

// Get reads a range and returns the raw cell grid.
func (c *Client) Get(ctx context.Context, rng string) ([][]any, error) {
	if c == nil || c.svc == nil {
		return nil, errClientNotInitialized
	}
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, describe(err, "get", rng)
	}
	return resp.Values, nil
}

// Append adds one row below the table anchored at rng and returns the 1-based
// row number the API placed it on.
func (c *Client) Append(ctx context.Context, rng string, row []any) (int64, error) {
	if c == nil || c.svc == nil {
		return 0, errClientNotInitialized
	}
	body := &gsheets.ValueRange{Values: [][]interface{}{row}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, body).
		ValueInputOption(valueInputOption).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return 0, describe(err, "append", rng)
	}
	if resp.Updates == nil {
		return 0, errors.New("sheets append returned no update range")
	}
	return ParseRowNumber(resp.Updates.UpdatedRange)
}

// Update overwrites a single range.
func (c *Client) Update(ctx context.Context, rng string, row []any) error {
	if c == nil || c.svc == nil {
		return errClientNotInitialized
	}
	body := &gsheets.ValueRange{Values: [][]interface{}{row}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, body).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do(); err != nil {
		return describe(err, "update", rng)
	}
	return nil
}

// BatchUpdate writes several ranges in one request.
func (c *Client) BatchUpdate(ctx context.Context, ranges map[string][]any) error {
	if c == nil || c.svc == nil {
		return errClientNotInitialized
	}
	req := &gsheets.BatchUpdateValuesRequest{ValueInputOption: valueInputOption}
	for rng, values := range ranges {
		req.Data = append(req.Data, &gsheets.ValueRange{Range: rng, Values: [][]interface{}{values}})
	}
	if _, err := c.svc.Spreadsheets.Values.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return describe(err, "batch update", fmt.Sprintf("%d ranges", len(ranges)))
	}
	return nil
}

// Ping reads the spreadsheet title to confirm credentials and sharing.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.svc == nil {
		return errClientNotInitialized
	}
	if _, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do(); err != nil {
		return describe(err, "ping", c.spreadsheetID)
	}
	return nil
}

// ParseRowNumber extracts the first row number from an A1 range such as
// "Data!A5:L5" or "'My Sheet'!A5".
func ParseRowNumber(a1 string) (int64, error) {
	ref := a1
	if idx := strings.LastIndex(ref, "!"); idx >= 0 {
		ref = ref[idx+1:]
	}
	if idx := strings.Index(ref, ":"); idx >= 0 {
		ref = ref[:idx]
	}
	digits := strings.TrimLeft(ref, "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz$")
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("cannot parse row number from range %q", a1)
	}
	return n, nil
}

func describe(err error, op, rng string) error {
	if isNotFound(err) {
		return fmt.Errorf("sheets %s %s: spreadsheet or range not found: %w", op, rng, err)
	}
	return fmt.Errorf("sheets %s %s: %w", op, rng, err)
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr.Code == http.StatusNotFound
	}
	return false
}
