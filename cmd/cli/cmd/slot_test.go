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

func resetViper() {
	viper.Reset()
	viper.SetEnvPrefix("OPSCORE")
	viper.AutomaticEnv()
}

func TestSlotBook_Success(t *testing.T) {
	resetViper()

	startsAt := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/slots") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("expected bearer token, got %q", auth)
		}

		var req api.BookSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Location != "room-1" {
			t.Errorf("expected location room-1, got %s", req.Location)
		}
		if !req.StartsAt.Equal(startsAt) {
			t.Errorf("expected starts_at %v, got %v", startsAt, req.StartsAt)
		}
		if req.DurationMinutes != 45 {
			t.Errorf("expected duration 45, got %d", req.DurationMinutes)
		}
		if req.Assignee != "dr-lee" {
			t.Errorf("expected assignee dr-lee, got %s", req.Assignee)
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.BookSlotResponse{
			Booked: true,
			Slot: &api.SlotResponse{
				ID:       "6f1b24a0-9c3e-4d9b-8a2f-000000000001",
				Location: "room-1",
				Assignee: "dr-lee",
				StartsAt: startsAt,
				EndsAt:   startsAt.Add(45 * time.Minute),
				Status:   "scheduled",
			},
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"slot", "book",
		"--location", "room-1",
		"--at", startsAt.Format(time.RFC3339),
		"--duration", "45",
		"--assignee", "dr-lee",
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Slot booked!") {
		t.Errorf("expected success message, got: %s", output)
	}
	if !strings.Contains(output, "6f1b24a0-9c3e-4d9b-8a2f-000000000001") {
		t.Errorf("expected slot ID in output, got: %s", output)
	}
}

func TestSlotBook_MissingFlags(t *testing.T) {
	resetViper()
	// Clear any values left behind by earlier runs
	slotBookCmd.Flags().Set("location", "")
	slotBookCmd.Flags().Set("at", "")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"slot", "book"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "--location and --at are required") {
		t.Errorf("expected validation message, got: %s", stdout.String())
	}
}

func TestSlotBook_InvalidTimestamp(t *testing.T) {
	resetViper()

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"slot", "book", "--location", "room-1", "--at", "tomorrow"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "invalid --at timestamp") {
		t.Errorf("expected timestamp error, got: %s", stdout.String())
	}
}

func TestSlotCancel_Success(t *testing.T) {
	resetViper()

	slotID := "6f1b24a0-9c3e-4d9b-8a2f-000000000001"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE method, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/slots/"+slotID) {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req api.CancelSlotRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Reason != "customer no-show" {
			t.Errorf("expected cancellation reason, got %q", req.Reason)
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(api.SlotResponse{ID: slotID, Status: "cancelled"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"slot", "cancel", slotID, "--reason", "customer no-show"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "cancelled.") {
		t.Errorf("expected cancellation message, got: %s", output)
	}
	if !strings.Contains(output, slotID) {
		t.Errorf("expected slot ID in output, got: %s", output)
	}
}

func TestSlotCancel_MissingArg(t *testing.T) {
	resetViper()

	var stderr bytes.Buffer
	rootCmd.SetOut(&stderr)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"slot", "cancel"})

	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error when missing slot ID argument")
	}
}

func TestSlotReschedule_Success(t *testing.T) {
	resetViper()

	slotID := "6f1b24a0-9c3e-4d9b-8a2f-000000000001"
	newStart := time.Date(2026, 9, 2, 14, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/slots/"+slotID+"/reschedule") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req api.RescheduleSlotRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.StartsAt.Equal(newStart) {
			t.Errorf("expected starts_at %v, got %v", newStart, req.StartsAt)
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(api.BookSlotResponse{
			Booked: true,
			Slot: &api.SlotResponse{
				ID:       slotID,
				StartsAt: newStart,
				EndsAt:   newStart.Add(30 * time.Minute),
				Status:   "scheduled",
			},
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"slot", "reschedule", slotID, "--at", newStart.Format(time.RFC3339)})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "Slot moved to") {
		t.Errorf("expected reschedule message, got: %s", stdout.String())
	}
}

func TestSlotReschedule_MissingAt(t *testing.T) {
	resetViper()
	slotRescheduleCmd.Flags().Set("at", "")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"slot", "reschedule", "some-slot-id"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "--at is required") {
		t.Errorf("expected validation message, got: %s", stdout.String())
	}
}

func TestSlotList_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET method, got %s", r.Method)
		}

		startsAt := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]api.SlotResponse{
			{
				ID:       "slot-1",
				Location: "room-1",
				Assignee: "dr-lee",
				StartsAt: startsAt,
				EndsAt:   startsAt.Add(30 * time.Minute),
				Status:   "scheduled",
			},
			{
				ID:       "slot-2",
				Location: "room-2",
				StartsAt: startsAt.Add(time.Hour),
				EndsAt:   startsAt.Add(90 * time.Minute),
				Status:   "cancelled",
			},
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"slot", "list"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	expectedStrings := []string{
		"SLOT ID", "LOCATION", "ASSIGNEE", "STARTS", "STATUS", // Headers
		"slot-1", "room-1", "dr-lee", "scheduled", // Data
		"slot-2", "cancelled",
	}
	for _, s := range expectedStrings {
		if !strings.Contains(output, s) {
			t.Errorf("expected output to contain %q, got:\n%s", s, output)
		}
	}
}

func TestSlotList_Filters(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("location") != "room-1" {
			t.Errorf("expected location=room-1, got %s", query.Get("location"))
		}
		if query.Get("status") != "scheduled" {
			t.Errorf("expected status=scheduled, got %s", query.Get("status"))
		}
		if query.Get("limit") != "5" {
			t.Errorf("expected limit=5, got %s", query.Get("limit"))
		}
		if query.Get("offset") != "10" {
			t.Errorf("expected offset=10, got %s", query.Get("offset"))
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]api.SlotResponse{})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"slot", "list",
		"--location", "room-1",
		"--status", "scheduled",
		"--limit", "5",
		"--offset", "10",
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "No slots found.") {
		t.Errorf("expected empty message, got: %s", stdout.String())
	}
}
