package filestore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wxjbaga/medical/pkg/common/errs"
)

func TestUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/upload/dataset" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
		} else {
			file.Close()
			if header.Filename != "a.zip" {
				t.Errorf("unexpected file name %q", header.Filename)
			}
		}
		if r.FormValue("is_cache") != "false" {
			t.Errorf("unexpected is_cache %q", r.FormValue("is_cache"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":200,"msg":"success","data":{"url":"http://files/dataset/a.zip","bucket":"dataset","objectKey":"a.zip"}}`))
	}))
	defer server.Close()

	client := New(server.URL, 5*time.Second)
	result, err := client.Upload(context.Background(), "dataset", "a.zip", []byte("archive"), false)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if result.Bucket != "dataset" || result.ObjectKey != "a.zip" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestUploadEnvelopeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":500,"msg":"disk full"}`))
	}))
	defer server.Close()

	client := New(server.URL, 5*time.Second)
	_, err := client.Upload(context.Background(), "dataset", "a.zip", []byte("archive"), false)
	if errs.KindOf(err) != errs.KindGateway {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dataset/a.zip" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte("archive"))
	}))
	defer server.Close()

	client := New(server.URL, 5*time.Second)
	content, err := client.Get(context.Background(), "dataset", "a.zip")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(content) != "archive" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestGetMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(server.URL, 5*time.Second)
	_, err := client.Get(context.Background(), "dataset", "missing.zip")
	if errs.KindOf(err) != errs.KindGateway {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	deleted := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/dataset/a.zip" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		deleted = true
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":200,"msg":"success"}`))
	}))
	defer server.Close()

	client := New(server.URL, 5*time.Second)
	if err := client.Delete(context.Background(), "dataset", "a.zip"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !deleted {
		t.Fatal("delete request never reached the server")
	}
}

func TestUnreachableServer(t *testing.T) {
	client := New("http://127.0.0.1:1", 500*time.Millisecond)
	_, err := client.Get(context.Background(), "dataset", "a.zip")
	if errs.KindOf(err) != errs.KindGateway {
		t.Fatalf("expected gateway error, got %v", err)
	}
}
