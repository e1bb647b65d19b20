package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New(CodeBadRequest, "invalid input"),
			want: "BAD_REQUEST: invalid input",
		},
		{
			name: "with wrapped error",
			err:  Wrap(errors.New("underlying error"), CodeInternal, "something failed"),
			want: "INTERNAL_ERROR: something failed: underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Is(t *testing.T) {
	err1 := NotFound("geofence")
	err2 := New(CodeNotFound, "different message")
	err3 := Conflict("busy")

	if !errors.Is(err1, err2) {
		t.Error("errors with same code should match")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different code should not match")
	}
	if err1.Is(errors.New("not app error")) {
		t.Error("AppError should not match non-AppError")
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		wantCode string
	}{
		{"Internal", Internal("internal error"), CodeInternal},
		{"NotFound", NotFound("geofence"), CodeNotFound},
		{"BadRequest", BadRequest("bad input"), CodeBadRequest},
		{"Validation", Validation("invalid"), CodeValidation},
		{"MalformedGeometry", MalformedGeometry(errors.New("ring too short")), CodeMalformedGeometry},
		{"Unauthorized", Unauthorized(""), CodeUnauthorized},
		{"Conflict", Conflict("in progress"), CodeConflict},
		{"Timeout", Timeout("request timed out"), CodeTimeout},
		{"RateLimited", RateLimited("too many requests"), CodeRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.wantCode)
			}
		})
	}
}

func TestMalformedGeometry_KeepsCause(t *testing.T) {
	cause := errors.New("polygon needs at least 3 distinct vertices")
	err := MalformedGeometry(cause)

	if err.Message != cause.Error() {
		t.Errorf("Message = %s, want %s", err.Message, cause.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("should unwrap to the cause")
	}
}

func TestPredicates_SeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("update geofence 3: %w", Conflict("mutation in progress"))

	if !IsConflict(wrapped) {
		t.Error("IsConflict should see through fmt.Errorf wrapping")
	}
	if IsNotFound(wrapped) {
		t.Error("IsNotFound should be false for conflict")
	}
	if Code(errors.New("plain")) != "" {
		t.Error("Code() of plain error should be empty")
	}
	if Code(nil) != "" {
		t.Error("Code(nil) should be empty")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("geofence"), http.StatusNotFound},
		{"conflict", Conflict("busy"), http.StatusConflict},
		{"malformed geometry", MalformedGeometry(nil), http.StatusBadRequest},
		{"validation", Validation("x"), http.StatusBadRequest},
		{"unauthorized", Unauthorized(""), http.StatusUnauthorized},
		{"rate limited", RateLimited("slow down"), http.StatusTooManyRequests},
		{"wrapped", fmt.Errorf("ctx: %w", NotFound("geofence")), http.StatusNotFound},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	t.Run("coded error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, ValidationWithDetails("invalid request", map[string]string{"name": "name is required"}), "trace-1")

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		var resp ErrorResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Error.Code != CodeValidation || resp.Error.Details["name"] == "" || resp.TraceID != "trace-1" {
			t.Errorf("unexpected body: %+v", resp)
		}
	})

	t.Run("internal error hides cause", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, InternalWrap(errors.New("disk on fire"), "persist geofence"), "")

		var resp ErrorResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rec.Code != http.StatusInternalServerError || resp.Error.Code != CodeInternal {
			t.Errorf("unexpected response %d %+v", rec.Code, resp)
		}
		if resp.Error.Message != "An internal error occurred" {
			t.Errorf("message leaked: %s", resp.Error.Message)
		}
	})
}
