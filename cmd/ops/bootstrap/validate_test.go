package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

type mockHTTPClient struct {
	status int
	body   string
	err    error
	req    *http.Request
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.req = req
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(strings.NewReader(m.body)),
	}, nil
}

type mockConnector struct {
	err error
	dsn string
}

func (m *mockConnector) Connect(_ context.Context, dsn string) error {
	m.dsn = dsn
	return m.err
}

const testStripeKey = "sk_test_abcdefghijklmnopqrstuvwx12"

func TestValidateDatabaseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		connErr error
		valid   bool
	}{
		{"valid", "postgres://u:p@db.example.com:5432/coachkit", nil, true},
		{"postgresql scheme", "postgresql://u:p@db.example.com/coachkit", nil, true},
		{"empty", "", nil, false},
		{"wrong scheme", "mysql://u:p@db.example.com/coachkit", nil, false},
		{"no host", "postgres:///coachkit", nil, false},
		{"connection refused", "postgres://u:p@db.example.com:5432/coachkit", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidatorWithDeps(nil, &mockConnector{err: tt.connErr})
			res := v.ValidateDatabaseURL(context.Background(), tt.url)
			if res.Valid != tt.valid {
				t.Errorf("Valid = %v (%s), want %v", res.Valid, res.Message, tt.valid)
			}
		})
	}
}

func TestValidateStripeKey_ProbesAccount(t *testing.T) {
	client := &mockHTTPClient{status: http.StatusOK, body: `{"id":"acct_123"}`}
	v := NewValidatorWithDeps(client, nil)

	res := v.ValidateStripeKey(context.Background(), testStripeKey)
	if !res.Valid {
		t.Fatalf("expected valid: %s", res.Message)
	}
	if !strings.Contains(res.Message, "acct_123") || !strings.Contains(res.Message, "test mode") {
		t.Errorf("message = %q", res.Message)
	}
	if client.req.URL.String() != "https://api.stripe.com/v1/account" {
		t.Errorf("url = %s", client.req.URL)
	}
	if client.req.Header.Get("Authorization") != "Bearer "+testStripeKey {
		t.Error("missing bearer auth")
	}
}

func TestValidateStripeKey_Failures(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		client *mockHTTPClient
	}{
		{"bad format", "pk_test_abcdefghijklmnopqrstuvwx12", &mockHTTPClient{status: http.StatusOK}},
		{"revoked", testStripeKey, &mockHTTPClient{status: http.StatusUnauthorized}},
		{"server error", testStripeKey, &mockHTTPClient{status: http.StatusInternalServerError, body: "oops"}},
		{"network", testStripeKey, &mockHTTPClient{err: errors.New("dial tcp: timeout")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewValidatorWithDeps(tt.client, nil).ValidateStripeKey(context.Background(), tt.key)
			if res.Valid {
				t.Error("expected invalid")
			}
		})
	}
}

func TestValidateWebhookSecret(t *testing.T) {
	v := NewValidatorWithDeps(nil, nil)
	if !v.ValidateWebhookSecret(context.Background(), "whsec_abcdefghijklmnopqrstuvwxyz12").Valid {
		t.Error("well-formed secret rejected")
	}
	for _, in := range []string{"", "whsec_short", "sk_test_abcdefghijklmnopqrstuvwxyz12"} {
		if v.ValidateWebhookSecret(context.Background(), in).Valid {
			t.Errorf("%q accepted", in)
		}
	}
}

func TestValidateRegex(t *testing.T) {
	v := NewValidatorWithDeps(nil, nil)
	if !v.ValidateRegex(context.Background(), "price_1,price_2", `^price_[0-9A-Za-z]+(,price_[0-9A-Za-z]+)*$`, "Prices").Valid {
		t.Error("expected match")
	}
	if v.ValidateRegex(context.Background(), "price_1,", `^price_[0-9A-Za-z]+(,price_[0-9A-Za-z]+)*$`, "Prices").Valid {
		t.Error("trailing comma accepted")
	}
	if v.ValidateRegex(context.Background(), "x", `(`, "Bad").Valid {
		t.Error("invalid pattern accepted")
	}
}

func TestTruncateBody(t *testing.T) {
	if got := truncateBody([]byte("abcdef"), 3); got != "abc..." {
		t.Errorf("got %q", got)
	}
	if got := truncateBody([]byte("ab"), 3); got != "ab" {
		t.Errorf("got %q", got)
	}
}
