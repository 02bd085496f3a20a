package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodeCategory(t *testing.T) {
	tests := []struct {
		code     Code
		expected string
	}{
		{ErrCodeConfigInvalid, "configuration"},
		{ErrCodeCatalogNotFound, "catalog"},
		{ErrCodeFuncCompile, "function"},
		{ErrCodeScriptException, "script"},
		{ErrCodeStorageQuery, "storage"},
		{ErrCodeInternal, "internal"},
	}

	for _, tc := range tests {
		t.Run(tc.expected, func(t *testing.T) {
			if got := tc.code.Category(); got != tc.expected {
				t.Errorf("Category(%d) = %q, want %q", tc.code, got, tc.expected)
			}
		})
	}
}

func TestBuilderFields(t *testing.T) {
	err := New(ErrCodeCatalogNotFound, "function not found").
		WithField("oid", int64(42)).
		WithDetail("cache lookup failed for function 42").
		WithOp("Lookup").
		Err()

	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.Code != ErrCodeCatalogNotFound {
		t.Errorf("Code = %d, want %d", e.Code, ErrCodeCatalogNotFound)
	}
	if e.Fields["oid"] != int64(42) {
		t.Errorf("Fields[oid] = %v, want 42", e.Fields["oid"])
	}
	if e.Detail != "cache lookup failed for function 42" {
		t.Errorf("Detail = %q", e.Detail)
	}
	if !strings.Contains(err.Error(), "function not found") {
		t.Errorf("Error() = %q, missing message", err.Error())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk gone")
	err := Wrap(cause, ErrCodeStorageQuery, "query failed").Err()

	if !errors.Is(err, cause) {
		t.Error("wrapped error should match its cause with errors.Is")
	}
	if GetCode(err) != ErrCodeStorageQuery {
		t.Errorf("GetCode = %d, want %d", GetCode(err), ErrCodeStorageQuery)
	}
}

func TestGetCodeOnForeignError(t *testing.T) {
	if got := GetCode(fmt.Errorf("plain")); got != ErrCodeInternal {
		t.Errorf("GetCode(plain) = %d, want internal", got)
	}
}

func TestIsCodeAndCategory(t *testing.T) {
	err := New(ErrCodeScriptException, "boom").Err()

	if !IsCode(err, ErrCodeScriptException) {
		t.Error("IsCode should match")
	}
	if IsCode(err, ErrCodeScriptResult) {
		t.Error("IsCode should not match a different code")
	}
	if !IsCategory(err, "script") {
		t.Error("IsCategory should match the script category")
	}
}

func TestGetDetailThroughWrapping(t *testing.T) {
	inner := New(ErrCodeScriptException, "boom").
		WithDetail("f() LINE 2: throw new Error('boom')").Err()
	outer := fmt.Errorf("call failed: %w", inner)

	if got := GetDetail(outer); !strings.Contains(got, "LINE 2") {
		t.Errorf("GetDetail = %q, want line info", got)
	}
}
