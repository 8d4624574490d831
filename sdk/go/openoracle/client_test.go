package openoracle

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const testAssertionID = "0x1111111111111111111111111111111111111111111111111111111111111111"

func TestOpenAssertionRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/api/v1/assertions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req OpenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.MarketID == "" || req.Outcome != "Yes" || req.Asserter != 7 {
			t.Fatalf("unexpected request payload: %+v", req)
		}
		if req.Bond == nil || req.Bond.Cmp(big.NewInt(1500)) != 0 {
			t.Fatalf("unexpected bond: %v", req.Bond)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Assertion{
			ID:        testAssertionID,
			MarketID:  req.MarketID,
			Outcome:   req.Outcome,
			Asserter:  req.Asserter,
			Bond:      req.Bond,
			Volume:    big.NewInt(50_000),
			Status:    StatusPending,
			ExpiresAt: 1_700_007_200,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	created, err := client.OpenAssertion(context.Background(), OpenRequest{
		MarketID: "0x5150000000000000000000000000000000000000000000000000000000000000",
		Outcome:  "Yes",
		Asserter: 7,
		Bond:     big.NewInt(1500),
	})
	if err != nil {
		t.Fatalf("open assertion: %v", err)
	}
	if created.ID != testAssertionID {
		t.Fatalf("unexpected assertion id: %s", created.ID)
	}
	if created.Status != StatusPending {
		t.Fatalf("unexpected status: %s", created.Status)
	}
	if created.Settled() {
		t.Fatal("pending assertion should not report settled")
	}
}

func TestListAssertionsQueryEncoding(t *testing.T) {
	var captured url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/assertions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		captured = r.URL.Query()
		_ = json.NewEncoder(w).Encode([]Assertion{{ID: testAssertionID, Status: StatusResolved}})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	results, err := client.ListAssertions(context.Background(), ListQuery{
		Statuses: []string{StatusPending, StatusDisputed},
		MarketID: "0x5150000000000000000000000000000000000000000000000000000000000000",
		Asserter: 7,
		Limit:    10,
		Offset:   5,
	})
	if err != nil {
		t.Fatalf("list assertions: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one assertion, got %d", len(results))
	}
	if got := captured["status"]; len(got) != 2 || got[0] != StatusPending || got[1] != StatusDisputed {
		t.Fatalf("unexpected status filter: %v", got)
	}
	if captured.Get("asserter") != "7" {
		t.Fatalf("unexpected asserter filter: %s", captured.Get("asserter"))
	}
	if captured.Get("limit") != "10" || captured.Get("offset") != "5" {
		t.Fatalf("unexpected pagination: limit=%s offset=%s", captured.Get("limit"), captured.Get("offset"))
	}
	if !strings.HasPrefix(captured.Get("market"), "0x5150") {
		t.Fatalf("unexpected market filter: %s", captured.Get("market"))
	}
}

func TestSettleDecodesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/settle") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_YET_RESOLVED","message":"verdict pending","retryable":true}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	_, err := client.SettleAssertion(context.Background(), testAssertionID)
	if err == nil {
		t.Fatal("expected an error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("unexpected status code: %d", apiErr.StatusCode)
	}
	if apiErr.Code != "NOT_YET_RESOLVED" {
		t.Fatalf("unexpected error code: %s", apiErr.Code)
	}
	if !apiErr.Retryable {
		t.Fatal("expected a retryable error")
	}
	if !strings.Contains(apiErr.Error(), "NOT_YET_RESOLVED") {
		t.Fatalf("unexpected error text: %s", apiErr.Error())
	}
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode([]Referral{{AssertionID: testAssertionID, Outcome: "Yes"}})
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]bool{"accepted": true})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	if _, err := client.PendingReferrals(context.Background()); err == nil {
		t.Fatal("expected an error without an admin token")
	}

	client.SetAdminToken("secret-token")
	if got := client.AdminToken(); got != "secret-token" {
		t.Fatalf("unexpected stored token: %s", got)
	}
	referrals, err := client.PendingReferrals(context.Background())
	if err != nil {
		t.Fatalf("pending referrals: %v", err)
	}
	if len(referrals) != 1 || referrals[0].AssertionID != testAssertionID {
		t.Fatalf("unexpected referrals: %+v", referrals)
	}
	if authorization != "Bearer secret-token" {
		t.Fatalf("unexpected authorization header: %s", authorization)
	}

	if err := client.SubmitVerdict(context.Background(), testAssertionID, true); err != nil {
		t.Fatalf("submit verdict: %v", err)
	}
}

func TestRotateRecorder(t *testing.T) {
	next := "0x00000000000000000000000000000000000000bb"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/admin/recorder" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var payload struct {
			Caller string `json:"caller"`
			Next   string `json:"next"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode rotation payload: %v", err)
		}
		if payload.Next != next {
			t.Fatalf("unexpected next recorder: %s", payload.Next)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"recorder": payload.Next})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	client.SetAdminToken("secret-token")
	rotated, err := client.RotateRecorder(context.Background(), "0x00000000000000000000000000000000000000aa", next)
	if err != nil {
		t.Fatalf("rotate recorder: %v", err)
	}
	if rotated != next {
		t.Fatalf("unexpected recorder after rotation: %s", rotated)
	}
}

func TestWaitUntilSettled(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := StatusPending
		if calls.Add(1) >= 3 {
			status = StatusResolved
		}
		_ = json.NewEncoder(w).Encode(Assertion{
			ID:     testAssertionID,
			Status: status,
			Payout: &Payout{Winner: 7, Amount: big.NewInt(2000)},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	settled, err := client.WaitUntilSettled(ctx, testAssertionID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait until settled: %v", err)
	}
	if settled.Status != StatusResolved {
		t.Fatalf("unexpected status: %s", settled.Status)
	}
	if settled.Payout == nil || settled.Payout.Winner != 7 {
		t.Fatalf("unexpected payout: %+v", settled.Payout)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least three polls, got %d", calls.Load())
	}
}

func TestWaitUntilSettledContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Assertion{ID: testAssertionID, Status: StatusPending})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.WaitUntilSettled(ctx, testAssertionID, 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
