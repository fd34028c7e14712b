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

func TestJobSubmit_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/jobs") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req api.EnqueueJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Type != "webhook.deliver" {
			t.Errorf("expected type webhook.deliver, got %s", req.Type)
		}
		if req.Priority != 80 {
			t.Errorf("expected priority 80, got %d", req.Priority)
		}
		if string(req.Payload) != `{"url":"https://example.com/hook"}` {
			t.Errorf("unexpected payload: %s", req.Payload)
		}

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.EnqueueJobResponse{JobID: "9a7e0001-0000-0000-0000-000000000001"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"job", "submit",
		"--type", "webhook.deliver",
		"--payload", `{"url":"https://example.com/hook"}`,
		"--priority", "80",
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Job submitted!") {
		t.Errorf("expected success message, got: %s", output)
	}
	if !strings.Contains(output, "9a7e0001-0000-0000-0000-000000000001") {
		t.Errorf("expected job ID in output, got: %s", output)
	}
	if !strings.Contains(output, "opsctl job status") {
		t.Errorf("expected status hint in output, got: %s", output)
	}
}

func TestJobSubmit_ScheduledAt(t *testing.T) {
	resetViper()

	runAt := time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.EnqueueJobRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ScheduledAt == nil || !req.ScheduledAt.Equal(runAt) {
			t.Errorf("expected scheduled_at %v, got %v", runAt, req.ScheduledAt)
		}

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.EnqueueJobResponse{JobID: "job-1"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"job", "submit",
		"--type", "report.generate",
		"--payload", `{"from":"2026-08-01T00:00:00Z","to":"2026-08-31T00:00:00Z"}`,
		"--at", runAt.Format(time.RFC3339),
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJobSubmit_MissingType(t *testing.T) {
	resetViper()
	jobSubmitCmd.Flags().Set("type", "")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"job", "submit"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "--type is required") {
		t.Errorf("expected validation message, got: %s", stdout.String())
	}
}

func TestJobSubmit_InvalidPayload(t *testing.T) {
	resetViper()

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"job", "submit", "--type", "webhook.deliver", "--payload", `{oops`})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "--payload must be valid JSON") {
		t.Errorf("expected validation message, got: %s", stdout.String())
	}
}

func TestJobStatus_Success(t *testing.T) {
	resetViper()

	jobID := "9a7e0001-0000-0000-0000-000000000001"
	started := time.Now().Add(-2 * time.Minute)
	finished := started.Add(90 * time.Second)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET method, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/jobs/"+jobID) {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(api.JobResponse{
			ID:          jobID,
			Type:        "webhook.deliver",
			Status:      "completed",
			Priority:    80,
			Attempts:    2,
			MaxAttempts: 3,
			ScheduledAt: started.Add(-time.Minute),
			StartedAt:   &started,
			FinishedAt:  &finished,
			Result:      json.RawMessage(`{"status_code":200}`),
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"job", "status", jobID})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	expectedStrings := []string{
		"Job Details",
		jobID,
		"webhook.deliver",
		"completed",
		"2/3",
		`{"status_code":200}`,
	}
	for _, s := range expectedStrings {
		if !strings.Contains(output, s) {
			t.Errorf("expected output to contain %q, got:\n%s", s, output)
		}
	}
}

func TestJobStatus_MissingArg(t *testing.T) {
	resetViper()

	var stderr bytes.Buffer
	rootCmd.SetOut(&stderr)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"job", "status"})

	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error when missing job ID argument")
	}
}

func TestJobList_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]api.JobResponse{
			{
				ID:          "job-1",
				Type:        "webhook.deliver",
				Status:      "completed",
				Priority:    80,
				Attempts:    1,
				MaxAttempts: 3,
				ScheduledAt: time.Now().Add(-time.Hour),
			},
			{
				ID:          "job-2",
				Type:        "notification.send",
				Status:      "pending",
				Priority:    50,
				Attempts:    0,
				MaxAttempts: 3,
				ScheduledAt: time.Now().Add(-time.Minute),
			},
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"job", "list"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	expectedStrings := []string{
		"JOB ID", "TYPE", "STATUS", "PRIORITY", // Headers
		"job-1", "webhook.deliver", "completed", // Data
		"job-2", "notification.send", "pending",
	}
	for _, s := range expectedStrings {
		if !strings.Contains(output, s) {
			t.Errorf("expected output to contain %q, got:\n%s", s, output)
		}
	}
}

func TestJobList_StatusFilter(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("status") != "pending" {
			t.Errorf("expected status=pending, got %s", query.Get("status"))
		}
		if query.Get("limit") != "5" {
			t.Errorf("expected limit=5, got %s", query.Get("limit"))
		}
		if query.Get("offset") != "10" {
			t.Errorf("expected offset=10, got %s", query.Get("offset"))
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]api.JobResponse{})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"job", "list", "--status", "pending", "--limit", "5", "--offset", "10"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "No jobs found.") {
		t.Errorf("expected empty message, got: %s", stdout.String())
	}
}
