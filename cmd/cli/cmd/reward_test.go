package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"opscore/pkg/api"

	"github.com/spf13/viper"
)

func TestRewardCreate_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/rewards") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req api.CreateRewardRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Name != "Free coffee" {
			t.Errorf("expected name 'Free coffee', got %q", req.Name)
		}
		if req.Cost != 500 {
			t.Errorf("expected cost 500, got %d", req.Cost)
		}
		if req.Stock != 100 {
			t.Errorf("expected stock 100, got %d", req.Stock)
		}
		if req.PerUserLimit != 1 {
			t.Errorf("expected per-user limit 1, got %d", req.PerUserLimit)
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.RewardResponse{
			ID:   "11110000-0000-0000-0000-000000000001",
			Name: "Free coffee",
			Cost: 500,
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"reward", "create",
		"--name", "Free coffee",
		"--cost", "500",
		"--stock", "100",
		"--per-user-limit", "1",
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Reward created!") {
		t.Errorf("expected success message, got: %s", output)
	}
	if !strings.Contains(output, "11110000-0000-0000-0000-000000000001") {
		t.Errorf("expected reward ID in output, got: %s", output)
	}
}

func TestRewardCreate_MissingName(t *testing.T) {
	resetViper()
	rewardCreateCmd.Flags().Set("name", "")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"reward", "create"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "--name is required") {
		t.Errorf("expected validation message, got: %s", stdout.String())
	}
}

func TestRewardCreate_InvalidCost(t *testing.T) {
	resetViper()
	rewardCreateCmd.Flags().Set("cost", "0")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"reward", "create", "--name", "Free coffee"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "--cost must be positive") {
		t.Errorf("expected validation message, got: %s", stdout.String())
	}
}

func TestRewardList_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET method, got %s", r.Method)
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]api.RewardResponse{
			{ID: "reward-1", Name: "Free coffee", Cost: 500, Stock: 37, RedeemedCount: 63},
			{ID: "reward-2", Name: "Gift card", Cost: 2000, Stock: -1, RedeemedCount: 4},
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"reward", "list"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	expectedStrings := []string{
		"REWARD ID", "NAME", "COST", "STOCK", // Headers
		"reward-1", "Free coffee", "500", "37", // Data
		"reward-2", "Gift card", "unlimited",
	}
	for _, s := range expectedStrings {
		if !strings.Contains(output, s) {
			t.Errorf("expected output to contain %q, got:\n%s", s, output)
		}
	}
}

func TestRewardList_Empty(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]api.RewardResponse{})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"reward", "list"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "No rewards found.") {
		t.Errorf("expected empty message, got: %s", stdout.String())
	}
}
