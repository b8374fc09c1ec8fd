// Package algorithm is the client for the external compute service.
// Submission is fire-and-acknowledge: a 200 envelope means the job was
// accepted, and the terminal outcome arrives later through the
// update-status callback endpoints.
package algorithm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/wxjbaga/medical/pkg/common/errs"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// TrainRequest carries everything the compute service needs to train a
// model against its snapshot copy of the dataset.
type TrainRequest struct {
	ID               int64           `json:"id"`
	DatasetID        int64           `json:"dataset_id"`
	DatasetBucket    string          `json:"dataset_bucket"`
	DatasetObjectKey string          `json:"dataset_object_key"`
	Hyperparams      json.RawMessage `json:"hyperparams,omitempty"`
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// ValidateDataset asks the compute service to start validating a dataset.
func (c *Client) ValidateDataset(ctx context.Context, datasetID int64) error {
	return c.post(ctx, "/dataset/validate", map[string]interface{}{"id": datasetID})
}

// TrainModel asks the compute service to start training a model.
func (c *Client) TrainModel(ctx context.Context, req TrainRequest) error {
	return c.post(ctx, "/model/train", req)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Gateway(err, "algorithm service unreachable")
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errs.Gateway(err, "algorithm service returned invalid response")
	}
	if env.Code != 200 {
		return errs.Gateway(nil, "algorithm service rejected %s: %s", path, env.Msg)
	}
	return nil
}
