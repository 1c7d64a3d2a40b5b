package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	apperrors "rsvp/pkg/errors"
	"rsvp/pkg/middleware"
	"rsvp/pkg/model"
)

// apiClient is a thin client for the reservation endpoints.
type apiClient struct {
	baseURL string
	http    *http.Client
}

// reply holds either a decision body or an error body; the status code
// decides which half is meaningful.
type reply struct {
	model.ReservationResponse
	apperrors.ErrorResponse
	HTTPStatus int `json:"-"`
}

func (r reply) failed() bool {
	return r.Code != ""
}

func (c *apiClient) url(path string) string {
	return strings.TrimRight(c.baseURL, "/") + path
}

func (c *apiClient) do(ctx context.Context, method, path, requester string, body, out any) (int, error) {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), &payload)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requester != "" {
		req.Header.Set(middleware.RequesterHeader, requester)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *apiClient) reserve(ctx context.Context, eventID, requesterID string) (reply, error) {
	var r reply
	status, err := c.do(ctx, http.MethodPost, "/api/v1/reservations", requesterID,
		model.ReservationRequest{EventID: eventID, RequesterID: requesterID}, &r)
	r.HTTPStatus = status
	return r, err
}

func (c *apiClient) publish(ctx context.Context, eventID string, capacity int) (*model.CapacityResponse, error) {
	var out struct {
		model.CapacityResponse
		apperrors.ErrorResponse
	}
	status, err := c.do(ctx, http.MethodPut, "/api/v1/events/"+url.PathEscape(eventID)+"/lifecycle", "",
		model.LifecycleRequest{Status: model.EventPublished, Capacity: capacity}, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("publish event: %d %s: %s", status, out.Code, out.Message)
	}
	return &out.CapacityResponse, nil
}

func (c *apiClient) capacity(ctx context.Context, eventID string) (*model.CapacityResponse, error) {
	var out struct {
		model.CapacityResponse
		apperrors.ErrorResponse
	}
	status, err := c.do(ctx, http.MethodGet, "/api/v1/events/"+url.PathEscape(eventID)+"/capacity", "", nil, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("read capacity: %d %s: %s", status, out.Code, out.Message)
	}
	return &out.CapacityResponse, nil
}
