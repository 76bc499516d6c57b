package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestParseRecordRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantLen int
		wantErr string
	}{
		{
			name:    "bare array",
			body:    `[{"description":"ăn phở","amount":50000,"category":"Ăn uống","date":"09/02/2025"}]`,
			wantLen: 1,
		},
		{
			name:    "wrapped object",
			body:    `{"expenses":[{"description":"a","amount":1,"category":"c","date":"01/01/2025"},{"description":"b","amount":2,"category":"c","date":"01/01/2025"}]}`,
			wantLen: 2,
		},
		{
			name:    "empty array",
			body:    ` [] `,
			wantLen: 0,
		},
		{
			name:    "empty body",
			body:    "",
			wantErr: "request body is empty",
		},
		{
			name:    "object without expenses",
			body:    `{"items":[]}`,
			wantErr: `missing "expenses" array`,
		},
		{
			name:    "scalar",
			body:    `42`,
			wantErr: "expected a JSON array or object",
		},
		{
			name:    "amount as string",
			body:    `[{"description":"a","amount":"1000","category":"c","date":"01/01/2025"}]`,
			wantErr: "invalid record batch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/record", strings.NewReader(tt.body))
			got, err := ParseRecordRequest(req)

			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("ParseRecordRequest() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRecordRequest() unexpected error: %v", err)
			}
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestParseRecordRequest_Sanitizes(t *testing.T) {
	body := `[{"description":"  cà phê\u0007 ","amount":30000,"category":" Ăn uống\n","date":" 14/03/2025 "}]`
	got, err := ParseRecordRequest(httptest.NewRequest(http.MethodPost, "/api/record", strings.NewReader(body)))
	if err != nil {
		t.Fatal(err)
	}
	e := got[0]
	if e.Description != "cà phê" || e.Category != "Ăn uống" || e.Date != "14/03/2025" {
		t.Errorf("sanitized record = %+v", e)
	}
}

func TestParseRecordRequest_TooLarge(t *testing.T) {
	body := "[" + strings.Repeat(" ", maxBodyBytes) + "]"
	_, err := ParseRecordRequest(httptest.NewRequest(http.MethodPost, "/api/record", strings.NewReader(body)))
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestParseTabParam(t *testing.T) {
	now := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		query   url.Values
		want    string
		wantErr bool
	}{
		{"default current month", url.Values{}, "03/2025", false},
		{"explicit", url.Values{"tab": {"12/2024"}}, "12/2024", false},
		{"trimmed", url.Values{"tab": {" 01/2025 "}}, "01/2025", false},
		{"bad month", url.Values{"tab": {"13/2025"}}, "", true},
		{"not a label", url.Values{"tab": {"March"}}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTabParam(tt.query, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTabParam() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTabParam() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseCellQuery(t *testing.T) {
	q, err := ParseCellQuery(url.Values{"date": {"09/02/2025"}, "category": {"Ăn uống"}})
	if err != nil || q.Date != "09/02/2025" || q.Category != "Ăn uống" {
		t.Fatalf("ParseCellQuery() = %+v, %v", q, err)
	}
	if _, err := ParseCellQuery(url.Values{"date": {"09/02/2025"}}); err == nil {
		t.Error("missing category should fail")
	}
}

func TestIsAsync(t *testing.T) {
	for v, want := range map[string]bool{"1": true, "true": true, "YES": true, "": false, "0": false, "no": false} {
		if got := IsAsync(url.Values{"async": {v}}); got != want {
			t.Errorf("IsAsync(%q) = %v, want %v", v, got, want)
		}
	}
}
