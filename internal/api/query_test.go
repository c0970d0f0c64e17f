package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tbury/scatter/internal/model"
	"github.com/tbury/scatter/internal/upstream"
)

func TestCreateQuerySync(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"term":"golang","deadline_ms":2000}`
	resp, err := http.Post(ts.URL+"/v1/queries", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/queries: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if got.Query == nil {
		t.Fatal("response missing query record")
	}
	if len(got.Query.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(got.Query.ID))
	}
	if got.Query.Status != model.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Query.Status, model.StatusCompleted)
	}
	if len(got.Results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(got.Results))
	}
	// Arrival order: web (5ms) before news (10ms).
	if got.Results[0].Branch != "web" || got.Results[1].Branch != "news" {
		t.Errorf("result order = [%s %s], want [web news]",
			got.Results[0].Branch, got.Results[1].Branch)
	}
}

func TestCreateQueryMissingTerm(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"deadline_ms":500}`
	resp, err := http.Post(ts.URL+"/v1/queries", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/queries: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	var errResp map[string]string
	json.NewDecoder(resp.Body).Decode(&errResp)
	if errResp["error"] == "" {
		t.Error("expected error message in response")
	}
}

func TestCreateQueryInvalidJSON(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/queries", "application/json", bytes.NewBufferString("not json"))
	if err != nil {
		t.Fatalf("POST /v1/queries: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateQueryNonPositiveDeadline(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"term":"golang","deadline_ms":-10}`
	resp, err := http.Post(ts.URL+"/v1/queries", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/queries: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateQueryInvalidBranchNames(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	bodies := []string{
		`{"term":"golang","branches":["we,b"],"deadline_ms":500}`,
		`{"term":"golang","branches":[""],"deadline_ms":500}`,
	}
	for _, body := range bodies {
		resp, err := http.Post(ts.URL+"/v1/queries", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("POST /v1/queries: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status for %s = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestAsyncQueryAccepted(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"term":"golang","deadline_ms":2000}`
	resp, err := http.Post(ts.URL+"/v1/queries/async", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/queries/async: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var q model.QueryRun
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if q.Status != model.StatusPending {
		t.Errorf("Status = %q, want %q", q.Status, model.StatusPending)
	}

	// The run finishes in the background.
	waitForTerminalAPI(t, srv, q.ID, 5*time.Second)
}

func TestGetQueryExisting(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"term":"golang","deadline_ms":2000}`
	createResp, _ := http.Post(ts.URL+"/v1/queries", "application/json", bytes.NewBufferString(body))
	var created queryResponse
	json.NewDecoder(createResp.Body).Decode(&created)
	createResp.Body.Close()

	resp, err := http.Get(ts.URL + "/v1/queries/" + created.Query.ID)
	if err != nil {
		t.Fatalf("GET /v1/queries/%s: %v", created.Query.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var got model.QueryRun
	json.NewDecoder(resp.Body).Decode(&got)
	if got.ID != created.Query.ID {
		t.Errorf("ID = %q, want %q", got.ID, created.Query.ID)
	}
}

func TestGetQueryNotFound(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/queries/nonexistent")
	if err != nil {
		t.Fatalf("GET /v1/queries/nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListQueriesEmpty(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/queries")
	if err != nil {
		t.Fatalf("GET /v1/queries: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var listResp listQueriesResponse
	json.NewDecoder(resp.Body).Decode(&listResp)

	if listResp.Total != 0 {
		t.Errorf("total = %d, want 0", listResp.Total)
	}
	if len(listResp.Queries) != 0 {
		t.Errorf("queries count = %d, want 0", len(listResp.Queries))
	}
}

func TestListQueriesPagination(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for i := 0; i < 5; i++ {
		body := fmt.Sprintf(`{"term":"q%d","deadline_ms":2000}`, i)
		resp, _ := http.Post(ts.URL+"/v1/queries", "application/json", bytes.NewBufferString(body))
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/v1/queries?limit=2&offset=0")
	if err != nil {
		t.Fatalf("GET /v1/queries: %v", err)
	}
	defer resp.Body.Close()

	var listResp listQueriesResponse
	json.NewDecoder(resp.Body).Decode(&listResp)

	if listResp.Total != 5 {
		t.Errorf("total = %d, want 5", listResp.Total)
	}
	if len(listResp.Queries) != 2 {
		t.Errorf("queries count = %d, want 2", len(listResp.Queries))
	}
	if listResp.Limit != 2 {
		t.Errorf("limit = %d, want 2", listResp.Limit)
	}
	if listResp.Offset != 0 {
		t.Errorf("offset = %d, want 0", listResp.Offset)
	}
}

func TestListQueriesDefaultLimit(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/queries")
	if err != nil {
		t.Fatalf("GET /v1/queries: %v", err)
	}
	defer resp.Body.Close()

	var listResp listQueriesResponse
	json.NewDecoder(resp.Body).Decode(&listResp)

	if listResp.Limit != defaultListLimit {
		t.Errorf("limit = %d, want %d", listResp.Limit, defaultListLimit)
	}
}

func TestGetResultsExisting(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"term":"golang","deadline_ms":2000}`
	createResp, _ := http.Post(ts.URL+"/v1/queries", "application/json", bytes.NewBufferString(body))
	var created queryResponse
	json.NewDecoder(createResp.Body).Decode(&created)
	createResp.Body.Close()

	resp, err := http.Get(ts.URL + "/v1/queries/" + created.Query.ID + "/results")
	if err != nil {
		t.Fatalf("GET results: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got queryResponse
	json.NewDecoder(resp.Body).Decode(&got)
	if len(got.Results) != 2 {
		t.Errorf("len(results) = %d, want 2", len(got.Results))
	}
}

func TestGetResultsNotFound(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/queries/nonexistent/results")
	if err != nil {
		t.Fatalf("GET results: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteQueryRunning(t *testing.T) {
	reg := upstream.NewRegistry()
	reg.Register("slow", stubReplica(3*time.Second, []byte("s"), nil))
	srv := newTestServer(t, reg)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"term":"golang","deadline_ms":10000}`
	createResp, _ := http.Post(ts.URL+"/v1/queries/async", "application/json", bytes.NewBufferString(body))
	var created model.QueryRun
	json.NewDecoder(createResp.Body).Decode(&created)
	createResp.Body.Close()

	// Retry until the run is live and killable through the dispatcher.
	deadline := time.Now().Add(2 * time.Second)
	for {
		req, _ := http.NewRequest("DELETE", ts.URL+"/v1/queries/"+created.ID, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE: %v", err)
		}
		resp.Body.Close()
		// 202 means the dispatcher cancelled a live run; 200 means the run was
		// still pending and was killed in the store before execution started.
		if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never became killable, last status = %d", resp.StatusCode)
		}
		time.Sleep(5 * time.Millisecond)
	}

	finished := waitForTerminalAPI(t, srv, created.ID, 5*time.Second)
	if finished.Status != model.StatusKilled {
		t.Errorf("status = %q, want killed", finished.Status)
	}
}

func TestDeleteQueryNotFound(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("DELETE", ts.URL+"/v1/queries/nonexistent", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteQueryFinished(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{"term":"golang","deadline_ms":2000}`
	createResp, _ := http.Post(ts.URL+"/v1/queries", "application/json", bytes.NewBufferString(body))
	var created queryResponse
	json.NewDecoder(createResp.Body).Decode(&created)
	createResp.Body.Close()

	req, _ := http.NewRequest("DELETE", ts.URL+"/v1/queries/"+created.Query.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

// waitForTerminalAPI polls the store until the run reaches a terminal status.
func waitForTerminalAPI(t *testing.T, srv *Server, id string, timeout time.Duration) *model.QueryRun {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		q, err := srv.store.GetQueryRun(context.Background(), id)
		if err != nil {
			t.Fatalf("GetQueryRun: %v", err)
		}
		if model.TerminalStatus(q.Status) {
			return q
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("query run %s did not reach a terminal status within %v", id, timeout)
	return nil
}
