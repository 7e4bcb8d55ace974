package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"approval-workflow-service/internal/models"
)

// DirectoryClient looks up approvers in staff-service
type DirectoryClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDirectoryClient creates a new staff-service directory client
func NewDirectoryClient(baseURL string) *DirectoryClient {
	return &DirectoryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// DirectoryUser represents a staff member returned by staff-service
type DirectoryUser struct {
	UserID models.UserID `json:"userId"`
	Name   string        `json:"name"`
	Role   models.RoleID `json:"role"`
	Active bool          `json:"active"`
}

// OrgUnit represents a department returned by staff-service
type OrgUnit struct {
	ID         models.OrgUnitID `json:"id"`
	Name       string           `json:"name"`
	HeadUserID *models.UserID   `json:"headUserId"`
}

// ListActiveUsersByRole returns the distinct active holders of any of roles,
// ordered by ascending user id
func (c *DirectoryClient) ListActiveUsersByRole(ctx context.Context, tenantID string, roles []models.RoleID) ([]models.UserID, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	query := url.Values{}
	for _, role := range roles {
		query.Add("role", string(role))
	}
	query.Set("active", "true")

	var result struct {
		Users []DirectoryUser `json:"users"`
	}
	found, err := c.get(ctx, tenantID, "/internal/directory/users?"+query.Encode(), &result)
	if err != nil || !found {
		return nil, err
	}

	seen := make(map[models.UserID]bool, len(result.Users))
	ids := make([]models.UserID, 0, len(result.Users))
	for _, u := range result.Users {
		if !u.Active || seen[u.UserID] {
			continue
		}
		seen[u.UserID] = true
		ids = append(ids, u.UserID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// GetOrgUnitHead returns the head of a department, or nil when the
// department is unknown or has no head
func (c *DirectoryClient) GetOrgUnitHead(ctx context.Context, tenantID string, unitID models.OrgUnitID) (*models.UserID, error) {
	var unit OrgUnit
	found, err := c.get(ctx, tenantID, fmt.Sprintf("/internal/directory/org-units/%d", unitID), &unit)
	if err != nil || !found {
		return nil, err
	}
	return unit.HeadUserID, nil
}

// IsUserActive reports whether the user is an active staff member of the tenant
func (c *DirectoryClient) IsUserActive(ctx context.Context, tenantID string, userID models.UserID) (bool, error) {
	var user DirectoryUser
	found, err := c.get(ctx, tenantID, "/internal/directory/users/"+userID.String(), &user)
	if err != nil || !found {
		return false, err
	}
	return user.Active, nil
}

// get performs a GET and decodes the JSON body into out. A 404 is reported
// as found == false without an error.
func (c *DirectoryClient) get(ctx context.Context, tenantID, path string, out interface{}) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("failed to call staff service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("staff service returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}
	return true, nil
}
