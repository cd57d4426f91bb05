package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_NilError(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}
}

func TestMapDBError_Codes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  ErrorCode
		wantField string
	}{
		{name: "deadline", err: context.DeadlineExceeded, wantCode: ErrCodeTimeout},
		{name: "canceled", err: context.Canceled, wantCode: ErrCodeCanceled},
		{name: "no rows", err: pgx.ErrNoRows, wantCode: ErrCodeNotFound},
		{
			name: "unique with column",
			err: &pgconn.PgError{
				Code: pgerrcode.UniqueViolation, TableName: "devices", ColumnName: "push_token",
			},
			wantCode:  ErrCodeConflict,
			wantField: "push_token",
		},
		{
			name: "unique from detail",
			err: &pgconn.PgError{
				Code: pgerrcode.UniqueViolation, Detail: "Key (id)=(dev-1) already exists.",
			},
			wantCode:  ErrCodeConflict,
			wantField: "id",
		},
		{
			name: "unique multi column detail",
			err: &pgconn.PgError{
				Code: pgerrcode.UniqueViolation, Detail: "Key (job_id, device_id)=(a, b) already exists.",
			},
			wantCode: ErrCodeConflict,
		},
		{
			name:     "foreign key",
			err:      &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, Detail: `Key (site_id)=(s) is not present in table "sites".`},
			wantCode: ErrCodeForeignKey,
		},
		{
			name:      "not null",
			err:       &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "action"},
			wantCode:  ErrCodeValidation,
			wantField: "action",
		},
		{
			name:     "check",
			err:      &pgconn.PgError{Code: pgerrcode.CheckViolation, ConstraintName: "jobs_status_check"},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "serialization",
			err:      &pgconn.PgError{Code: pgerrcode.SerializationFailure},
			wantCode: ErrCodeUnavailable,
		},
		{
			name:     "unknown pg code",
			err:      &pgconn.PgError{Code: pgerrcode.DiskFull},
			wantCode: ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if GetCode(err) != tt.wantCode {
				t.Fatalf("code = %q, want %q", GetCode(err), tt.wantCode)
			}
			if GetField(err) != tt.wantField {
				t.Errorf("field = %q, want %q", GetField(err), tt.wantField)
			}
			if !errors.Is(err, tt.err) {
				var pgErr *pgconn.PgError
				if !errors.As(err, &pgErr) {
					t.Errorf("mapped error should keep cause %v", tt.err)
				}
			}
		})
	}
}

func TestMapDBError_ForeignKeyMessages(t *testing.T) {
	missing := MapDBError(&pgconn.PgError{
		Code:   pgerrcode.ForeignKeyViolation,
		Detail: `Key (site_id)=(s-1) is not present in table "sites".`,
	})
	if missing.Error() == "" || GetCode(missing) != ErrCodeForeignKey {
		t.Fatalf("unexpected mapping: %v", missing)
	}
	var appErr *AppError
	if !errors.As(missing, &appErr) || appErr.Message != "referenced site does not exist" {
		t.Errorf("message = %q", appErr.Message)
	}

	inUse := MapDBError(&pgconn.PgError{
		Code:   pgerrcode.ForeignKeyViolation,
		Detail: `Key (id)=(j-1) is still referenced from table "push_attempts".`,
	})
	if !errors.As(inUse, &appErr) || appErr.Message != "still referenced by push attempt" {
		t.Errorf("message = %q", appErr.Message)
	}
}

func TestMapDBError_StandardErrorPassesThrough(t *testing.T) {
	plain := errors.New("boom")
	if got := MapDBError(plain); got != plain {
		t.Errorf("MapDBError(plain) = %v, want the same error", got)
	}
}

func TestTableNoun(t *testing.T) {
	if got := tableNoun("followup_checks"); got != "follow-up check" {
		t.Errorf("tableNoun() = %q", got)
	}
	if got := tableNoun("some_table"); got != "some table" {
		t.Errorf("tableNoun() = %q", got)
	}
	if got := tableNoun(""); got != "record" {
		t.Errorf("tableNoun() = %q", got)
	}
}
