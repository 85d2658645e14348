package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackzampolin/easel/internal/home"
	"github.com/jackzampolin/easel/internal/jobs"
	"github.com/jackzampolin/easel/internal/providers"
	"github.com/jackzampolin/easel/internal/server/endpoints"
)

func newTestServer(t *testing.T, addr string) (*Server, *providers.MockGenerator) {
	t.Helper()

	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home: %v", err)
	}

	srv, err := New(Config{
		Addr:   addr,
		Home:   h,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Without a config manager no providers are registered; the default
	// generator name from config is "openai", so the mock stands in
	// under that name.
	mock := providers.NewMockGenerator()
	srv.Registry().RegisterStoryboard("openai", mock)
	srv.Registry().RegisterImage("openai", mock)

	return srv, mock
}

func waitForServer(t *testing.T, baseURL string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("server did not start in time")
}

func TestServer_FullLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	addr := "127.0.0.1:18780"
	baseURL := "http://" + addr

	srv, _ := newTestServer(t, addr)

	serverCtx, serverCancel := context.WithCancel(ctx)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(serverCtx)
	}()
	waitForServer(t, baseURL)

	t.Run("health_endpoint", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/health")
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("ready_endpoint", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/ready")
		if err != nil {
			t.Fatalf("ready check failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("ready status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var health endpoints.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if health.Status != "ok" || health.Store != "ok" {
			t.Errorf("ready = %+v, want ok/ok", health)
		}
	})

	t.Run("status_lists_generators", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/status")
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		defer resp.Body.Close()

		var status endpoints.StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			t.Fatalf("decode: %v", err)
		}
		found := false
		for _, name := range status.Generators {
			if name == "openai" {
				found = true
			}
		}
		if !found {
			t.Errorf("generators = %v, want to include openai", status.Generators)
		}
	})

	t.Run("settings_seeded", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/settings")
		if err != nil {
			t.Fatalf("settings failed: %v", err)
		}
		defer resp.Body.Close()

		var settings endpoints.SettingsResponse
		if err := json.NewDecoder(resp.Body).Decode(&settings); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if _, ok := settings.Settings["defaults.generator"]; !ok {
			t.Error("defaults.generator not seeded")
		}
	})

	var storyboardID string

	t.Run("upload_runs_analysis", func(t *testing.T) {
		body, _ := json.Marshal(endpoints.UploadNovelRequest{
			Title: "The Long Night",
			Text:  "Chapter 1\nAria enters the tavern.\n\nChapter 2\nShe leaves at dawn.",
		})
		resp, err := http.Post(baseURL+"/api/novels", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("upload failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("upload status = %d, want %d", resp.StatusCode, http.StatusAccepted)
		}

		var upload endpoints.UploadNovelResponse
		if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
			t.Fatalf("decode: %v", err)
		}

		// The analyze worker picks the job up off the queue.
		job := waitForJob(t, baseURL, upload.Job.ID)
		if job.Status != jobs.StatusCompleted {
			t.Fatalf("job status = %s (%s), want completed", job.Status, job.Error)
		}
		id, ok := job.Result["storyboardId"].(string)
		if !ok || id == "" {
			t.Fatalf("job result missing storyboardId: %v", job.Result)
		}
		storyboardID = id
	})

	t.Run("storyboard_readable", func(t *testing.T) {
		if storyboardID == "" {
			t.Skip("analysis did not produce a storyboard")
		}
		resp, err := http.Get(baseURL + "/api/storyboards/" + storyboardID)
		if err != nil {
			t.Fatalf("get storyboard: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("storyboard status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var sb endpoints.GetStoryboardResponse
		if err := json.NewDecoder(resp.Body).Decode(&sb); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(sb.Panels) == 0 {
			t.Error("storyboard has no panels")
		}
	})

	t.Run("generate_panels", func(t *testing.T) {
		if storyboardID == "" {
			t.Skip("analysis did not produce a storyboard")
		}
		body, _ := json.Marshal(endpoints.GeneratePanelsRequest{Mode: "preview"})
		resp, err := http.Post(baseURL+"/api/storyboards/"+storyboardID+"/panels",
			"application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("generate panels: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("generate status = %d, want %d", resp.StatusCode, http.StatusAccepted)
		}

		var gen endpoints.GeneratePanelsResponse
		if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
			t.Fatalf("decode: %v", err)
		}

		job := waitForJob(t, baseURL, gen.Job.ID)
		if job.Status != jobs.StatusCompleted {
			t.Fatalf("panels job status = %s (%s), want completed", job.Status, job.Error)
		}
		if job.Progress.PanelsDone != gen.Panels {
			t.Errorf("panelsDone = %d, want %d", job.Progress.PanelsDone, gen.Panels)
		}
	})

	t.Run("edit_panel", func(t *testing.T) {
		if storyboardID == "" {
			t.Skip("analysis did not produce a storyboard")
		}
		resp, err := http.Get(baseURL + "/api/storyboards/" + storyboardID)
		if err != nil {
			t.Fatalf("get storyboard: %v", err)
		}
		var sb endpoints.GetStoryboardResponse
		err = json.NewDecoder(resp.Body).Decode(&sb)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(sb.Panels) == 0 {
			t.Skip("storyboard has no panels")
		}
		panelID := sb.Panels[0].ID

		body, _ := json.Marshal(endpoints.EditPanelRequest{
			Instruction: "make the tavern candle-lit",
			Mode:        "preview",
		})
		resp, err = http.Post(baseURL+"/api/panels/"+panelID+"/edit",
			"application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("edit panel: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("edit status = %d, want %d", resp.StatusCode, http.StatusAccepted)
		}

		var edit endpoints.EditPanelResponse
		if err := json.NewDecoder(resp.Body).Decode(&edit); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if edit.Job.Type != jobs.TypeEdit {
			t.Errorf("job type = %q, want edit", edit.Job.Type)
		}

		job := waitForJob(t, baseURL, edit.Job.ID)
		if job.Status != jobs.StatusCompleted {
			t.Fatalf("edit job status = %s (%s), want completed", job.Status, job.Error)
		}
		if job.Progress.PanelsDone != 1 {
			t.Errorf("panelsDone = %d, want 1", job.Progress.PanelsDone)
		}
	})

	t.Run("is_running", func(t *testing.T) {
		if !srv.IsRunning() {
			t.Error("IsRunning() = false, want true")
		}
	})

	serverCancel()
	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Start() returned error on shutdown: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("server did not shut down within timeout")
	}

	if srv.IsRunning() {
		t.Error("IsRunning() = true after shutdown, want false")
	}
}

// waitForJob polls the job API until the job reaches a terminal state.
func waitForJob(t *testing.T, baseURL, jobID string) *endpoints.GetJobResponse {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/api/jobs/" + jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		var job endpoints.GetJobResponse
		err = json.NewDecoder(resp.Body).Decode(&job)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode job: %v", err)
		}
		if job.Terminal() {
			return &job
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", jobID)
	return nil
}

func TestServer_ContextCancellation(t *testing.T) {
	addr := "127.0.0.1:18781"
	srv, _ := newTestServer(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(ctx)
	}()
	waitForServer(t, "http://"+addr)

	cancel()
	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Start() error = %v, want nil", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}

	if _, err := http.Get("http://" + addr + "/health"); err == nil {
		t.Error("server still accepting connections after shutdown")
	}
}

func TestServer_DoubleStart(t *testing.T) {
	addr := "127.0.0.1:18782"
	srv, _ := newTestServer(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(ctx)
	}()
	waitForServer(t, "http://"+addr)

	if err := srv.Start(ctx); err == nil {
		t.Error("second Start() succeeded, want error")
	}

	cancel()
	select {
	case <-serverErr:
	case <-time.After(30 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNew_RequiresHome(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without home succeeded, want error")
	}
}

func TestRequireInit_BeforeStart(t *testing.T) {
	srv, _ := newTestServer(t, "127.0.0.1:0")

	req := httptest.NewRequest("GET", "/api/jobs", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestServer_AddrDefault(t *testing.T) {
	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(Config{Home: h, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatal(err)
	}
	if srv.Addr() != "localhost:8780" {
		t.Errorf("Addr() = %q, want localhost:8780", srv.Addr())
	}
}
