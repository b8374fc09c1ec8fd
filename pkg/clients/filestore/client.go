// Package filestore is the client for the object storage service. Blobs
// live under a bucket and object key; the service answers with the shared
// {code, msg, data} envelope except for raw downloads.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
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

type UploadResult struct {
	URL       string `json:"url"`
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"objectKey"`
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Upload stores content as a new object in bucket. The service picks the
// final object key from the uploaded file name.
func (c *Client) Upload(ctx context.Context, bucket, fileName string, content []byte, isCache bool) (UploadResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return UploadResult{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return UploadResult{}, fmt.Errorf("build upload form: %w", err)
	}
	if err := writer.WriteField("is_cache", strconv.FormatBool(isCache)); err != nil {
		return UploadResult{}, fmt.Errorf("build upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("build upload form: %w", err)
	}

	url := fmt.Sprintf("%s/upload/%s", c.baseURL, bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	data, err := c.do(req)
	if err != nil {
		return UploadResult{}, err
	}

	var result UploadResult
	if err := json.Unmarshal(data, &result); err != nil {
		return UploadResult{}, errs.Gateway(err, "file service returned unexpected upload data")
	}
	return result, nil
}

// Get downloads the object's full content.
func (c *Client) Get(ctx context.Context, bucket, objectKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.FileURL(bucket, objectKey), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Gateway(err, "file service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.Gateway(nil, "file service returned HTTP %d for %s/%s", resp.StatusCode, bucket, objectKey)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Gateway(err, "read file %s/%s", bucket, objectKey)
	}
	return content, nil
}

// Delete removes the object.
func (c *Client) Delete(ctx context.Context, bucket, objectKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.FileURL(bucket, objectKey), nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

// FileURL returns the public URL of an object.
func (c *Client) FileURL(bucket, objectKey string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, bucket, objectKey)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Gateway(err, "file service unreachable")
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, errs.Gateway(err, "file service returned invalid response")
	}
	if env.Code != 200 {
		return nil, errs.Gateway(nil, "file service error: %s", env.Msg)
	}
	return env.Data, nil
}
