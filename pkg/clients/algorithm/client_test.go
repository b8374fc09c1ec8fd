package algorithm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wxjbaga/medical/pkg/common/errs"
)

func TestValidateDataset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/dataset/validate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("invalid payload: %v", err)
		}
		if id, _ := payload["id"].(float64); int64(id) != 42 {
			t.Errorf("unexpected id %v", payload["id"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":200,"msg":"success"}`))
	}))
	defer server.Close()

	client := New(server.URL, 5*time.Second)
	if err := client.ValidateDataset(context.Background(), 42); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
}

func TestTrainModel(t *testing.T) {
	var got TrainRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/model/train" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("invalid payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":200,"msg":"success"}`))
	}))
	defer server.Close()

	client := New(server.URL, 5*time.Second)
	req := TrainRequest{
		ID:               7,
		DatasetID:        42,
		DatasetBucket:    "model-dataset-copy",
		DatasetObjectKey: "dataset_for_model_x.zip",
		Hyperparams:      json.RawMessage(`{"epochs":10}`),
	}
	if err := client.TrainModel(context.Background(), req); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if got.ID != 7 || got.DatasetBucket != "model-dataset-copy" {
		t.Fatalf("unexpected request payload: %+v", got)
	}
}

func TestRejectedSubmission(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":500,"msg":"no workers available"}`))
	}))
	defer server.Close()

	client := New(server.URL, 5*time.Second)
	err := client.ValidateDataset(context.Background(), 42)
	if errs.KindOf(err) != errs.KindGateway {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestUnreachableService(t *testing.T) {
	client := New("http://127.0.0.1:1", 500*time.Millisecond)
	err := client.TrainModel(context.Background(), TrainRequest{ID: 1})
	if errs.KindOf(err) != errs.KindGateway {
		t.Fatalf("expected gateway error, got %v", err)
	}
}
