package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/johndauphine/pg-rest-mirror/internal/config"
	"github.com/johndauphine/pg-rest-mirror/internal/sink"
)

// reconcileServer serves a canned key listing and records delete queries.
func reconcileServer(t *testing.T, storedJSON string, deleteStatus int) (*httptest.Server, *[]string) {
	t.Helper()
	deletes := &[]string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, storedJSON)
		case http.MethodDelete:
			*deletes = append(*deletes, r.URL.RawQuery)
			if deleteStatus != 0 {
				http.Error(w, "delete failed", deleteStatus)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s request", r.Method)
		}
	}))
	return server, deletes
}

func testReconciler(serverURL string, table *config.TableSpec) *Reconciler {
	client := sink.New(&config.SinkConfig{URL: serverURL, Key: "k"}, 5*time.Second)
	return NewReconciler(client, table)
}

func TestReconcileDeletesOrphans(t *testing.T) {
	server, deletes := reconcileServer(t, `[{"id":1},{"id":2},{"id":3}]`, 0)
	defer server.Close()

	table := &config.TableSpec{Name: "orders", KeyColumns: []string{"id"}}
	delivered := make(KeySet)
	delivered.Add(EncodeKey([]any{int64(1)}))
	delivered.Add(EncodeKey([]any{int64(3)}))

	res, err := testReconciler(server.URL, table).Run(context.Background(), delivered)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.StoredKeys != 3 {
		t.Errorf("StoredKeys = %d, want 3", res.StoredKeys)
	}
	if res.Orphans != 1 || res.Deleted != 1 {
		t.Errorf("Orphans = %d, Deleted = %d, want 1 and 1", res.Orphans, res.Deleted)
	}
	if len(*deletes) != 1 || (*deletes)[0] != "id=eq.2" {
		t.Errorf("deletes = %v, want [id=eq.2]", *deletes)
	}
}

func TestReconcileEmptyDeliveredDeletesAll(t *testing.T) {
	server, deletes := reconcileServer(t, `[{"id":1},{"id":2},{"id":3}]`, 0)
	defer server.Close()

	table := &config.TableSpec{Name: "orders", KeyColumns: []string{"id"}}

	res, err := testReconciler(server.URL, table).Run(context.Background(), make(KeySet))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Deleted != 3 {
		t.Errorf("Deleted = %d, want 3 (empty source mirrors to empty sink)", res.Deleted)
	}
	if len(*deletes) != 3 {
		t.Errorf("deletes = %v, want 3 entries", *deletes)
	}
}

func TestReconcileCompositeKeys(t *testing.T) {
	stored := `[{"order_id":1,"line_no":1},{"order_id":1,"line_no":2},{"order_id":2,"line_no":1}]`
	server, deletes := reconcileServer(t, stored, 0)
	defer server.Close()

	table := &config.TableSpec{Name: "order_lines", KeyColumns: []string{"order_id", "line_no"}}
	delivered := make(KeySet)
	delivered.Add(EncodeKey([]any{int64(1), int64(1)}))
	delivered.Add(EncodeKey([]any{int64(2), int64(1)}))

	res, err := testReconciler(server.URL, table).Run(context.Background(), delivered)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Only the full tuple (1,2) is an orphan; (1,1) and (2,1) share one
	// component with it and must survive.
	if res.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", res.Deleted)
	}
	if len(*deletes) != 1 || (*deletes)[0] != "line_no=eq.2&order_id=eq.1" {
		t.Errorf("deletes = %v, want [line_no=eq.2&order_id=eq.1]", *deletes)
	}
}

func TestReconcileNullKeyPart(t *testing.T) {
	server, deletes := reconcileServer(t, `[{"id":1,"region":null},{"id":2,"region":"eu"}]`, 0)
	defer server.Close()

	table := &config.TableSpec{Name: "orders", KeyColumns: []string{"id", "region"}}
	delivered := make(KeySet)
	delivered.Add(EncodeKey([]any{int64(2), "eu"}))

	res, err := testReconciler(server.URL, table).Run(context.Background(), delivered)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", res.Deleted)
	}
	if len(*deletes) != 1 || (*deletes)[0] != "id=eq.1&region=is.null" {
		t.Errorf("deletes = %v, want [id=eq.1&region=is.null]", *deletes)
	}
}

func TestReconcileNullKeyDelivered(t *testing.T) {
	// A delivered row with a NULL key part keeps its sink row alive.
	server, deletes := reconcileServer(t, `[{"id":1,"region":null}]`, 0)
	defer server.Close()

	table := &config.TableSpec{Name: "orders", KeyColumns: []string{"id", "region"}}
	delivered := make(KeySet)
	delivered.Add(EncodeKey([]any{int64(1), nil}))

	res, err := testReconciler(server.URL, table).Run(context.Background(), delivered)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Orphans != 0 || len(*deletes) != 0 {
		t.Errorf("Orphans = %d, deletes = %v, want none", res.Orphans, *deletes)
	}
}

func TestReconcileDeleteFailureNonFatal(t *testing.T) {
	server, deletes := reconcileServer(t, `[{"id":1},{"id":2}]`, http.StatusInternalServerError)
	defer server.Close()

	table := &config.TableSpec{Name: "orders", KeyColumns: []string{"id"}}

	res, err := testReconciler(server.URL, table).Run(context.Background(), make(KeySet))
	if err != nil {
		t.Fatalf("Run: %v (delete failures must not fail the table)", err)
	}

	if res.FailedDeletes != 2 || res.Deleted != 0 {
		t.Errorf("FailedDeletes = %d, Deleted = %d, want 2 and 0", res.FailedDeletes, res.Deleted)
	}
	if len(*deletes) != 2 {
		t.Errorf("deletes attempted = %d, want 2", len(*deletes))
	}
}

func TestReconcileListingFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no table", http.StatusNotFound)
	}))
	defer server.Close()

	table := &config.TableSpec{Name: "orders", KeyColumns: []string{"id"}}

	_, err := testReconciler(server.URL, table).Run(context.Background(), make(KeySet))
	if err == nil {
		t.Fatal("expected error when key listing fails")
	}
}
