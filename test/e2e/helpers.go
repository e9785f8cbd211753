//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/docvec/internal/cli/commands"
	"github.com/cloo-solutions/docvec/internal/config"
	"github.com/cloo-solutions/docvec/internal/jobs"
	"github.com/cloo-solutions/docvec/internal/storage"
	"github.com/cloo-solutions/docvec/internal/testutil"
)

const (
	embeddingDims = 32
	s3Bucket      = "docvec-e2e"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Config       *config.Config
	App          *commands.App
	ServerURL    string
	ServerCloser func()
	S3Client     *storage.S3Client
	EmbedderURL  string
	BinaryDir    string
	HTTPClient   *http.Client
}

// SetupE2EEnv starts Postgres and RustFS, migrates, and serves the API with
// the processing worker. Embeddings come from a fake OpenAI-compatible server.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	embedSrv := testutil.NewEmbeddingServer(t, testutil.NewFakeEmbedder(embeddingDims))

	cfg := &config.Config{
		Store:                     config.StorePostgres,
		DatabaseURL:               pgC.ConnectionString(),
		DBMaxConns:                10,
		ChunkSize:                 1000,
		ChunkOverlap:              200,
		SearchSimilarityThreshold: 0.7,
		MaxSearchResults:          10,
		UsageRanking:              true,
		SimilarityWeight:          1.0,
		FrequencyWeight:           0.7,
		RecencyWeight:             0.3,
		EmbeddingProvider:         config.ProviderLocal,
		EmbeddingModel:            "fake-embed",
		EmbeddingDimensions:       embeddingDims,
		EmbeddingBaseURL:          embedSrv.URL,
		EmbeddingMaxInputChars:    8000,
		EmbeddingBatchSize:        16,
		EmbeddingTimeout:          10 * time.Second,
		IngestBatchSize:           10,
		WorkerPollInterval:        100 * time.Millisecond,
		WorkerConcurrency:         2,
		JobMaxRetries:             3,
		S3Endpoint:                s3C.Endpoint(),
		S3AccessKey:               "rustfsadmin",
		S3SecretKey:               "rustfsadmin",
		S3Bucket:                  s3Bucket,
		S3Region:                  "us-east-1",
	}

	app, err := commands.NewApp(ctx, cfg, commands.AppOptions{
		Migrate:          true,
		MigrationsSource: "file://../../migrations",
	})
	if err != nil {
		t.Fatalf("failed to wire app: %v", err)
	}

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}
	serverURL, serverCloser := startServer(t, app, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		RustFSC:      s3C,
		Config:       cfg,
		App:          app,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		S3Client:     s3Client,
		EmbedderURL:  embedSrv.URL,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.App != nil {
		e.App.Close()
	}
	if e.RustFSC != nil {
		_ = e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		_ = e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		_ = os.RemoveAll(e.BinaryDir)
	}
}

// BuildBinary builds docvecd into a temp dir
func (e *E2ETestEnv) BuildBinary() {
	tmpDir, err := os.MkdirTemp("", "docvec-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "docvecd"), "./cmd/docvecd")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build docvecd: %v\n%s", err, out)
	}
}

// RunDocvecd runs the docvecd binary against the test database, S3 and
// embedding server.
func (e *E2ETestEnv) RunDocvecd(args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "docvecd"), args...)
	cmd.Dir = e.T.TempDir()
	cmd.Env = append(os.Environ(),
		"DOCVEC_STORE=postgres",
		"DOCVEC_DATABASE_URL="+e.Config.DatabaseURL,
		"DOCVEC_EMBEDDING_PROVIDER=local",
		"DOCVEC_EMBEDDING_MODEL=fake-embed",
		fmt.Sprintf("DOCVEC_EMBEDDING_DIMENSIONS=%d", embeddingDims),
		"DOCVEC_EMBEDDING_BASE_URL="+e.EmbedderURL,
		"DOCVEC_S3_ENDPOINT="+e.Config.S3Endpoint,
		"DOCVEC_S3_ACCESS_KEY_ID="+e.Config.S3AccessKey,
		"DOCVEC_S3_SECRET_ACCESS_KEY="+e.Config.S3SecretKey,
		"DOCVEC_S3_BUCKET="+e.Config.S3Bucket,
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIError is the error body of a failed request
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIResponse represents a standard API response
type APIResponse struct {
	Status int
	Data   json.RawMessage `json:"data"`
	Error  *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the data envelope into dst
func (r *APIResponse) Decode(t *testing.T, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(r.Data, dst); err != nil {
		t.Fatalf("failed to decode response data %s: %v", r.Data, err)
	}
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path string) (*APIResponse, error) {
	return e.doRequest(http.MethodDelete, path, nil)
}

// doRequest returns the decoded response for any status. Only transport
// failures are errors.
func (e *E2ETestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(e.Ctx, method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	apiResp := &APIResponse{Status: resp.StatusCode}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return apiResp, nil
	}
	if err := json.Unmarshal(respBody, apiResp); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return apiResp, nil
}

// PutObject uploads content to the test bucket
func (e *E2ETestEnv) PutObject(key, content, contentType string) {
	if err := e.S3Client.PutObject(e.Ctx, key, strings.NewReader(content), contentType); err != nil {
		e.T.Fatalf("failed to put object %s: %v", key, err)
	}
}

// WaitForStatus polls a document until it reaches status or the timeout
// expires, and returns the last document seen.
func (e *E2ETestEnv) WaitForStatus(id, status string, timeout time.Duration) map[string]any {
	deadline := time.Now().Add(timeout)
	var doc map[string]any
	for time.Now().Before(deadline) {
		resp, err := e.Get("/documents/" + id)
		if err == nil && resp.Status == http.StatusOK {
			resp.Decode(e.T, &doc)
			if doc["status"] == status {
				return doc
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	e.T.Fatalf("document %s did not reach %s within %v (last: %v)", id, status, timeout, doc["status"])
	return nil
}

// startServer serves the API and runs the processing worker until closed
func startServer(t *testing.T, app *commands.App, port int) (string, func()) {
	runner := jobs.NewProcessingRunner(app.Jobs, app.Pipeline, jobs.RunnerConfig{
		Concurrency: app.Config.WorkerConcurrency,
		MaxRetries:  app.Config.JobMaxRetries,
	})
	worker := jobs.NewWorker(runner, app.Config.WorkerPollInterval)
	go worker.Start(context.Background())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: commands.NewHandler(app),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		worker.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
