package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"google.golang.org/api/googleapi"
)

// ErrorDump is the log view of an error: its code, the wrap chain and the
// backend detail of whichever ledger store produced it.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	Postgres *PostgresDetail `json:"postgres,omitempty"`
	Sheets   *SheetsDetail   `json:"sheets,omitempty"`
}

// PostgresDetail carries the server error of the SQL ledger.
type PostgresDetail struct {
	Code       string `json:"code"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Message    string `json:"message,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// SheetsDetail carries the Google API error of the Sheets ledger. A 429 or
// 5xx status is a quota or availability problem; a 403 or 404 means the
// spreadsheet is not shared with the service account or does not exist.
type SheetsDetail struct {
	Status  int    `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Fields flattens the dump for structured logging.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_code":  d.Code,
		"error_chain": d.Chain,
	}
	if d.Postgres != nil {
		fields["pg_code"] = d.Postgres.Code
		fields["pg_constraint"] = d.Postgres.Constraint
		fields["pg_message"] = d.Postgres.Message
	}
	if d.Sheets != nil {
		fields["sheets_status"] = d.Sheets.Status
		fields["sheets_reason"] = d.Sheets.Reason
		fields["sheets_message"] = d.Sheets.Message
	}
	return fields
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	var apiErr *googleapi.Error
	switch {
	case errors.As(err, &pgxErr):
		d.Postgres = &PostgresDetail{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Message:    pgxErr.Message,
			Detail:     pgxErr.Detail,
		}
	case errors.As(err, &pqErr):
		d.Postgres = &PostgresDetail{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Message:    pqErr.Message,
			Detail:     pqErr.Detail,
		}
	case errors.As(err, &apiErr):
		d.Sheets = &SheetsDetail{Status: apiErr.Code, Message: apiErr.Message}
		if len(apiErr.Errors) > 0 {
			d.Sheets.Reason = apiErr.Errors[0].Reason
		}
	}
	return d
}
