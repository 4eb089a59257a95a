package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SupabaseStore uploads objects through the Supabase storage REST API with
// the service role key.
type SupabaseStore struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// NewSupabaseStore builds a store against the project URL.
func NewSupabaseStore(projectURL, serviceKey string, timeout time.Duration) *SupabaseStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SupabaseStore{
		baseURL:    strings.TrimRight(projectURL, "/") + "/storage/v1",
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func escapePath(objectPath string) string {
	parts := strings.Split(objectPath, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Upload writes obj, replacing an existing object at the same path.
func (s *SupabaseStore) Upload(ctx context.Context, obj Object) error {
	endpoint := fmt.Sprintf("%s/object/%s/%s", s.baseURL, obj.Bucket, escapePath(obj.Path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(obj.Data))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("x-upsert", "true")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrUpload, obj.Bucket, obj.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%w: %s/%s: status %d: %s", ErrUpload, obj.Bucket, obj.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Delete removes paths from bucket in one bulk request.
func (s *SupabaseStore) Delete(ctx context.Context, bucket string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	payload, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return fmt.Errorf("encode delete request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/object/%s", s.baseURL, url.PathEscape(bucket))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDelete, bucket, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%w: %s: status %d: %s", ErrDelete, bucket, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// PublicURL returns the public download URL of an object.
func (s *SupabaseStore) PublicURL(bucket, objectPath string) string {
	return fmt.Sprintf("%s/object/public/%s/%s", s.baseURL, bucket, escapePath(objectPath))
}
