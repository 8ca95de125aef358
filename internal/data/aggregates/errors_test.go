package aggregates

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"gorm.io/gorm"

	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
)

func TestMapError_Validation(t *testing.T) {
	err := MapError("op", ValidationError("bad input"))
	if !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("expected validation code, got %q (%v)", domainagg.CodeOf(err), err)
	}
}

func TestMapError_NotFound(t *testing.T) {
	err := MapError("op", gorm.ErrRecordNotFound)
	if !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("expected not_found code, got %q (%v)", domainagg.CodeOf(err), err)
	}
}

func TestMapError_PgCodes(t *testing.T) {
	cases := map[string]domainagg.ErrorCode{
		"23505": domainagg.CodeConflict,
		"23503": domainagg.CodePreconditionFailed,
		"40001": domainagg.CodeRetryable,
		"55P03": domainagg.CodeRetryable,
	}
	for code, want := range cases {
		err := MapError("op", &pgconn.PgError{Code: code, Message: "pg"})
		if !domainagg.IsCode(err, want) {
			t.Fatalf("pg %s: want %q got %q", code, want, domainagg.CodeOf(err))
		}
	}
}

func TestMapError_IdentityViolationIsDuplicateContent(t *testing.T) {
	neoErr := &neo4j.Neo4jError{
		Code: "Neo.ClientError.Schema.ConstraintValidationFailed",
		Msg:  "Node(12) already exists with label `VersionRoot` and properties `family` = 'unit_definition', `identity_key` = 'mg'",
	}
	cases := map[string]error{
		"postgres": &pgconn.PgError{Code: "23505", ConstraintName: "idx_mdr_root_identity_unique", Message: "duplicate key value"},
		"sqlite":   errors.New("UNIQUE constraint failed: mdr_version_root.family, mdr_version_root.identity_key"),
		"neo4j":    neoErr,
	}
	for name, in := range cases {
		err := MapError("op", fmt.Errorf("create root: %w", in))
		if !errors.Is(err, domainagg.ErrDuplicateContent) || !domainagg.IsCode(err, domainagg.CodeValidation) {
			t.Fatalf("%s: want duplicate content, got %q (%v)", name, domainagg.CodeOf(err), err)
		}
	}

	other := MapError("op", &pgconn.PgError{Code: "23505", ConstraintName: "idx_mdr_version_single_open"})
	if errors.Is(other, domainagg.ErrDuplicateContent) || !domainagg.IsCode(other, domainagg.CodeConflict) {
		t.Fatalf("open-record violation should stay a conflict, got %q (%v)", domainagg.CodeOf(other), other)
	}
}

func TestMapError_SqliteHeuristics(t *testing.T) {
	err := MapError("op", errors.New("UNIQUE constraint failed: mdr_version_root.uid"))
	if !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("expected conflict code, got %q", domainagg.CodeOf(err))
	}
	err = MapError("op", errors.New("database is locked"))
	if !domainagg.IsCode(err, domainagg.CodeRetryable) {
		t.Fatalf("expected retryable code, got %q", domainagg.CodeOf(err))
	}
	err = MapError("op", errors.New("boom"))
	if !domainagg.IsCode(err, domainagg.CodeInternal) {
		t.Fatalf("expected internal code, got %q", domainagg.CodeOf(err))
	}
}

func TestMapError_Cancellation(t *testing.T) {
	err := MapError("op", fmt.Errorf("acquire lock: %w", context.Canceled))
	if !domainagg.IsCode(err, domainagg.CodeRetryable) {
		t.Fatalf("expected retryable code, got %q", domainagg.CodeOf(err))
	}
}

func TestMapError_PassthroughAggregateError(t *testing.T) {
	in := domainagg.NotFound("op", "U1", "")
	out := MapError("other", in)
	if out != in {
		t.Fatalf("expected passthrough aggregate error")
	}
	wrapped := fmt.Errorf("load: %w", in)
	if got := MapError("other", wrapped); !errors.Is(got, domainagg.ErrNotFound) || got != wrapped {
		t.Fatalf("expected wrapped aggregate error passthrough, got %v", got)
	}
}
