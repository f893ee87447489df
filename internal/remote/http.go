package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/platewise/mealsync/internal/model"
)

// HTTPClient implements Client over a JSON HTTP API.
//
// Each method is a thin request/response wrapper: build the request, attach
// the bearer token, decode the response. A 401 maps to ErrUnauthenticated;
// any other failure maps to *Error with the server's message when one is
// provided.
type HTTPClient struct {
	baseURL string
	token   func() string
	client  *http.Client
	logger  *log.Logger
}

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	// BaseURL is the API root, e.g. "https://api.example.com/v1".
	BaseURL string

	// Token returns the current bearer token, or "" when signed out.
	Token func() string

	// Timeout bounds each request (default: 15s).
	Timeout time.Duration

	// Logger for request failures (default: stderr logger).
	Logger *log.Logger
}

// NewHTTPClient creates a Client talking to a JSON HTTP API.
func NewHTTPClient(config HTTPConfig) *HTTPClient {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	if config.Token == nil {
		config.Token = func() string { return "" }
	}

	return &HTTPClient{
		baseURL: config.BaseURL,
		token:   config.Token,
		client:  &http.Client{Timeout: config.Timeout},
		logger:  config.Logger,
	}
}

// apiError is the error body the server returns on failure.
type apiError struct {
	Message string `json:"message"`
}

// do executes one request. A nil out skips response decoding. notFoundOK
// makes a 404 return (false, nil) instead of an error, for loads that
// legitimately come back empty.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, body, out any, notFoundOK bool) (bool, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, NewError(op, "failed to encode request", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return false, NewError(op, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Printf("Warning: %s %s failed: %v", method, path, err)
		return false, NewError(op, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.logger.Printf("Warning: %s %s rejected with 401", method, path)
		return false, fmt.Errorf("%s: %w", op, ErrUnauthenticated)

	case resp.StatusCode == http.StatusNotFound && notFoundOK:
		return false, nil

	case resp.StatusCode >= 400:
		msg := "server returned " + strconv.Itoa(resp.StatusCode)
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		c.logger.Printf("Warning: %s %s returned %d", method, path, resp.StatusCode)
		return false, NewError(op, msg, nil)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, NewError(op, "failed to decode response", err)
		}
	}

	return true, nil
}

// LoadMealPlan implements Client.LoadMealPlan.
func (c *HTTPClient) LoadMealPlan(ctx context.Context) (*model.MealPlan, error) {
	var plan model.MealPlan
	ok, err := c.do(ctx, "loadMealPlan", http.MethodGet, "/plan", nil, &plan, true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &plan, nil
}

// SyncMealPlan implements Client.SyncMealPlan.
func (c *HTTPClient) SyncMealPlan(ctx context.Context, plan *model.MealPlan) (*model.MealPlan, error) {
	var saved model.MealPlan
	if _, err := c.do(ctx, "syncMealPlan", http.MethodPut, "/plan", plan, &saved, false); err != nil {
		return nil, err
	}
	return &saved, nil
}

// LoadUserRecipes implements Client.LoadUserRecipes.
func (c *HTTPClient) LoadUserRecipes(ctx context.Context) ([]model.Recipe, error) {
	var recipes []model.Recipe
	if _, err := c.do(ctx, "loadUserRecipes", http.MethodGet, "/recipes", nil, &recipes, false); err != nil {
		return nil, err
	}
	return recipes, nil
}

// SaveUserRecipe implements Client.SaveUserRecipe.
func (c *HTTPClient) SaveUserRecipe(ctx context.Context, recipe model.Recipe) (*model.Recipe, error) {
	var saved model.Recipe
	path := "/recipes/" + url.PathEscape(recipe.ID)
	if _, err := c.do(ctx, "saveUserRecipe", http.MethodPut, path, recipe, &saved, false); err != nil {
		return nil, err
	}
	return &saved, nil
}

// DeleteUserRecipe implements Client.DeleteUserRecipe.
func (c *HTTPClient) DeleteUserRecipe(ctx context.Context, id string) error {
	path := "/recipes/" + url.PathEscape(id)
	_, err := c.do(ctx, "deleteUserRecipe", http.MethodDelete, path, nil, nil, false)
	return err
}

// LoadCheckedItems implements Client.LoadCheckedItems.
func (c *HTTPClient) LoadCheckedItems(ctx context.Context, planID string) (map[string]model.CheckedItem, error) {
	var items []model.CheckedItem
	path := "/plans/" + url.PathEscape(planID) + "/checked"
	if _, err := c.do(ctx, "loadCheckedItems", http.MethodGet, path, nil, &items, false); err != nil {
		return nil, err
	}

	checked := make(map[string]model.CheckedItem, len(items))
	for _, item := range items {
		checked[item.Key()] = item
	}
	return checked, nil
}

// ToggleCheckedItem implements Client.ToggleCheckedItem.
func (c *HTTPClient) ToggleCheckedItem(ctx context.Context, planID, itemID string, checked bool, who string) error {
	body := map[string]any{
		"checked":    checked,
		"checked_by": who,
	}
	path := "/plans/" + url.PathEscape(planID) + "/checked/" + url.PathEscape(itemID)
	_, err := c.do(ctx, "toggleCheckedItem", http.MethodPut, path, body, nil, false)
	return err
}

// ClearCheckedItems implements Client.ClearCheckedItems.
func (c *HTTPClient) ClearCheckedItems(ctx context.Context, planID string) error {
	path := "/plans/" + url.PathEscape(planID) + "/checked"
	_, err := c.do(ctx, "clearCheckedItems", http.MethodDelete, path, nil, nil, false)
	return err
}

// LoadCustomItems implements Client.LoadCustomItems.
func (c *HTTPClient) LoadCustomItems(ctx context.Context, planID string) ([]model.CustomItem, error) {
	var items []model.CustomItem
	path := "/plans/" + url.PathEscape(planID) + "/items"
	if _, err := c.do(ctx, "loadCustomItems", http.MethodGet, path, nil, &items, false); err != nil {
		return nil, err
	}
	return items, nil
}

// AddCustomItem implements Client.AddCustomItem.
func (c *HTTPClient) AddCustomItem(ctx context.Context, planID string, item model.CustomItem) (*model.CustomItem, error) {
	var saved model.CustomItem
	path := "/plans/" + url.PathEscape(planID) + "/items"
	if _, err := c.do(ctx, "addCustomItem", http.MethodPost, path, item, &saved, false); err != nil {
		return nil, err
	}
	return &saved, nil
}

// RemoveCustomItem implements Client.RemoveCustomItem.
func (c *HTTPClient) RemoveCustomItem(ctx context.Context, id string) error {
	path := "/items/" + url.PathEscape(id)
	_, err := c.do(ctx, "removeCustomItem", http.MethodDelete, path, nil, nil, false)
	return err
}
