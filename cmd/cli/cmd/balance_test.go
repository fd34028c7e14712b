package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"opscore/pkg/api"

	"github.com/spf13/viper"
)

func TestBalanceShow_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET method, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/balances/user-42") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(api.BalanceResponse{
			Subject:     "user-42",
			Balance:     250,
			TotalEarned: 400,
			TotalSpent:  150,
			EarnRateBP:  15000,
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"balance", "show", "user-42"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	expectedStrings := []string{"user-42", "250", "400", "150", "1.50x"}
	for _, s := range expectedStrings {
		if !strings.Contains(output, s) {
			t.Errorf("expected output to contain %q, got:\n%s", s, output)
		}
	}
}

func TestBalanceCredit_InvalidAmount(t *testing.T) {
	resetViper()
	balanceCreditCmd.Flags().Set("amount", "0")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"balance", "credit", "user-42"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "--amount must be positive") {
		t.Errorf("expected validation message, got: %s", stdout.String())
	}
}

func TestBalanceCredit_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/balances/user-42/credit") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req api.CreditRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Amount != 100 {
			t.Errorf("expected amount 100, got %d", req.Amount)
		}
		if req.Type != "bonus" {
			t.Errorf("expected type bonus, got %s", req.Type)
		}
		if req.IdempotencyKey != "order-981-points" {
			t.Errorf("expected idempotency key, got %q", req.IdempotencyKey)
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(api.LedgerResultResponse{
			Applied: true,
			Balance: 350,
			Entry:   &api.LedgerEntryResponse{ID: 7, Type: "bonus", Amount: 100},
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"balance", "credit", "user-42",
		"--amount", "100",
		"--type", "bonus",
		"--idempotency-key", "order-981-points",
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "+100 points credited") {
		t.Errorf("expected credit message, got: %s", output)
	}
	if !strings.Contains(output, "Balance: 350") {
		t.Errorf("expected new balance, got: %s", output)
	}
}

func TestBalanceCredit_DuplicateReplay(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(api.LedgerResultResponse{
			Applied:   true,
			Duplicate: true,
			Balance:   350,
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"balance", "credit", "user-42",
		"--amount", "100",
		"--idempotency-key", "order-981-points",
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "idempotency key replay") {
		t.Errorf("expected replay message, got: %s", stdout.String())
	}
}

func TestBalanceDebit_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/balances/user-42/debit") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req api.DebitRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Amount != 50 {
			t.Errorf("expected amount 50, got %d", req.Amount)
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(api.LedgerResultResponse{
			Applied: true,
			Balance: 300,
			Entry:   &api.LedgerEntryResponse{ID: 8, Type: "spend", Amount: -50},
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"balance", "debit", "user-42", "--amount", "50"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "-50 points debited") {
		t.Errorf("expected debit message, got: %s", output)
	}
	if !strings.Contains(output, "Balance: 300") {
		t.Errorf("expected new balance, got: %s", output)
	}
}

func TestBalanceRedeem_MissingReward(t *testing.T) {
	resetViper()
	balanceRedeemCmd.Flags().Set("reward", "")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"balance", "redeem", "user-42"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "--reward is required") {
		t.Errorf("expected validation message, got: %s", stdout.String())
	}
}

func TestBalanceRedeem_Success(t *testing.T) {
	resetViper()

	rewardID := "11110000-0000-0000-0000-000000000001"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/balances/user-42/redeem") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req api.RedeemRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.RewardID != rewardID {
			t.Errorf("expected reward ID %s, got %s", rewardID, req.RewardID)
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(api.LedgerResultResponse{
			Applied: true,
			Balance: 100,
			Entry:   &api.LedgerEntryResponse{ID: 9, Type: "redeem", Amount: -150},
			Reward:  &api.RewardResponse{ID: rewardID, Name: "Free Coffee", Cost: 150},
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"balance", "redeem", "user-42", "--reward", rewardID})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, `Redeemed "Free Coffee" for 150 points`) {
		t.Errorf("expected redemption message, got: %s", output)
	}
	if !strings.Contains(output, "Remaining balance: 100") {
		t.Errorf("expected remaining balance, got: %s", output)
	}
}

func TestBalanceLedger_Success(t *testing.T) {
	resetViper()

	expiry := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/balances/user-42/ledger") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]api.LedgerEntryResponse{
			{ID: 8, Type: "spend", Amount: -50, Reference: "order-981", CreatedAt: time.Now()},
			{ID: 7, Type: "earn", Amount: 100, ExpiresAt: &expiry, CreatedAt: time.Now().Add(-time.Hour)},
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"balance", "ledger", "user-42"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	expectedStrings := []string{
		"ID", "TYPE", "AMOUNT", "REFERENCE", // Headers
		"spend", "-50", "order-981", // Data
		"earn", "+100", "2026-12-31",
	}
	for _, s := range expectedStrings {
		if !strings.Contains(output, s) {
			t.Errorf("expected output to contain %q, got:\n%s", s, output)
		}
	}
}

func TestBalanceLedger_Empty(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]api.LedgerEntryResponse{})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"balance", "ledger", "user-42"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "No ledger entries found.") {
		t.Errorf("expected empty message, got: %s", stdout.String())
	}
}
