package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/casier-judiciaire/casier-backend/pkg/errors"
)

type sampleBody struct {
	RecordType string      `json:"record_type" validate:"required,oneof=B1 B2 B3"`
	CaseIDs    []uuid.UUID `json:"case_ids" validate:"omitempty,max=2"`
	Comment    string      `json:"comment" validate:"max=5"`
}

func newBodyRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	var dest sampleBody
	if err := DecodeJSONBody(newBodyRequest(`{"record_type":"B3","comment":"ok"}`), &dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dest.RecordType != "B3" || dest.Comment != "ok" {
		t.Fatalf("unexpected decode result %+v", dest)
	}
}

func TestDecodeJSONBodyRejections(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"unknown field": `{"record_type":"B3","extra":1}`,
		"trailing data": `{"record_type":"B3"}{"record_type":"B1"}`,
		"bad oneof":     `{"record_type":"B4"}`,
		"missing":       `{}`,
		"too long":      `{"record_type":"B1","comment":"abcdefg"}`,
	}
	for name, body := range cases {
		var dest sampleBody
		err := DecodeJSONBody(newBodyRequest(body), &dest)
		if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestDecodeJSONBodyReportsFieldMessages(t *testing.T) {
	var dest sampleBody
	err := DecodeJSONBody(newBodyRequest(`{"record_type":"B9"}`), &dest)
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected typed error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", typed.Details())
	}
	if got := details["record_type"]; got != "must be one of: B1, B2, B3" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20&bad=x&big=500", nil)

	if v, err := ParseQueryInt(req, "limit", 10, 1, 100); err != nil || v != 20 {
		t.Fatalf("expected 20, got %d (%v)", v, err)
	}
	if v, err := ParseQueryInt(req, "missing", 10, 1, 100); err != nil || v != 10 {
		t.Fatalf("expected fallback 10, got %d (%v)", v, err)
	}
	if _, err := ParseQueryInt(req, "bad", 10, 1, 100); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for non numeric value, got %v", err)
	}
	if _, err := ParseQueryInt(req, "big", 10, 1, 100); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for out of range value, got %v", err)
	}
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	withParam := func(value string) *http.Request {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("caseId", value)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	got, err := ParseUUIDParam(withParam(id.String()), "caseId")
	if err != nil || got != id {
		t.Fatalf("expected %s, got %s (%v)", id, got, err)
	}
	if _, err := ParseUUIDParam(withParam("nope"), "caseId"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := ParseUUIDParam(withParam(""), "caseId"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for missing param, got %v", err)
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  bonjour\x00 à tous \t", 0); got != "bonjour à tous" {
		t.Fatalf("unexpected sanitized value %q", got)
	}
	if got := SanitizeString("éééé", 2); got != "éé" {
		t.Fatalf("expected rune-aware truncation, got %q", got)
	}
}
