// Package identity resolves user ids to display names through the Identity
// Service. Names are for display only and never drive authorization.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"marketplace-backend/internal/apperr"
)

// User is the Identity Service's view of a user.
type User struct {
	ID          uint   `json:"id"`
	DisplayName string `json:"displayName"`
}

// Directory looks users up by id.
type Directory interface {
	GetUser(ctx context.Context, id uint) (User, error)
}

// Client calls GET {baseURL}/api/users/{id}.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) GetUser(ctx context.Context, id uint) (User, error) {
	url := fmt.Sprintf("%s/api/users/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return User{}, fmt.Errorf("failed to create request to identity service: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return User{}, apperr.Wrap(apperr.CodeTransient, "identity service call failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return User{}, apperr.NotFoundf("user %d not found", id)
	default:
		return User{}, apperr.Newf(apperr.CodeTransient, "identity service returned status %d", resp.StatusCode)
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return User{}, fmt.Errorf("decode identity response: %w", err)
	}
	if u.ID == 0 {
		u.ID = id
	}
	return u, nil
}

// Static serves names from a fixed map. Unknown ids get a generated name.
type Static map[uint]string

func (s Static) GetUser(_ context.Context, id uint) (User, error) {
	if name, ok := s[id]; ok {
		return User{ID: id, DisplayName: name}, nil
	}
	return User{ID: id, DisplayName: "user-" + strconv.FormatUint(uint64(id), 10)}, nil
}

// DisplayNames resolves each distinct id once. Lookup failures are logged and
// leave that id out; callers render a placeholder.
func DisplayNames(ctx context.Context, dir Directory, log *zap.Logger, ids []uint) map[uint]string {
	names := make(map[uint]string, len(ids))
	for _, id := range ids {
		if _, done := names[id]; done {
			continue
		}
		u, err := dir.GetUser(ctx, id)
		if err != nil {
			log.Warn("identity lookup failed", zap.Uint("user_id", id), zap.Error(err))
			names[id] = ""
			continue
		}
		names[id] = u.DisplayName
	}
	for id, name := range names {
		if name == "" {
			delete(names, id)
		}
	}
	return names
}
