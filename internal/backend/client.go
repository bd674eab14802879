package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"collection-tracker/internal/model"
)

const (
	UpdateLocationPath = "/api/update-location"
	CollectorPath      = "/api/locations/getCollector"

	maxBodyBytes = 1 << 20
)

var (
	ErrNetwork           = errors.New("backend unreachable")
	ErrMalformedResponse = errors.New("malformed backend response")
)

// APIError is a non-2xx answer. Message comes from the {"message": ...} body when present.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: status %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

func (c *Client) UpdateLocation(ctx context.Context, lat, lon float64) error {
	body, err := json.Marshal(model.LocationUpdate{Latitude: lat, Longitude: lon})
	if err != nil {
		return fmt.Errorf("marshal location update: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, UpdateLocationPath, body)
	return err
}

// GetCollectorLocation accepts both a bare {latitude, longitude} object and the
// {data: {...}} envelope.
func (c *Client) GetCollectorLocation(ctx context.Context) (model.GeoPosition, error) {
	data, err := c.do(ctx, http.MethodGet, CollectorPath, nil)
	if err != nil {
		return model.GeoPosition{}, err
	}

	var payload struct {
		coordinates
		Data *coordinates `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return model.GeoPosition{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	coords := payload.coordinates
	if coords.Latitude == nil && payload.Data != nil {
		coords = *payload.Data
	}
	if coords.Latitude == nil || coords.Longitude == nil {
		return model.GeoPosition{}, fmt.Errorf("%w: latitude and longitude are required", ErrMalformedResponse)
	}

	pos := model.GeoPosition{
		Latitude:   *coords.Latitude,
		Longitude:  *coords.Longitude,
		CapturedAt: time.Now(),
	}
	if err := pos.Valid(); err != nil {
		return model.GeoPosition{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return pos, nil
}

type coordinates struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var envelope struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Message != "" {
			apiErr.Message = envelope.Message
		}
		return nil, apiErr
	}
	return data, nil
}
