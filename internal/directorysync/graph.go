package directorysync

import (
	"context"
	"fmt"

	"github.com/savegress/optimizer/backend/internal/httpclient"
)

// DirectoryUser is the subset of Microsoft Graph's user resource this
// system cares about.
type DirectoryUser struct {
	ID                string `json:"id"`
	UserPrincipalName string `json:"userPrincipalName"`
	DisplayName       string `json:"displayName"`
	Department        string `json:"department"`
	AccountEnabled    bool   `json:"accountEnabled"`
}

type licenseDetail struct {
	SkuID string `json:"skuId"`
}

// GraphAPI is the directory-API surface sync operations need, narrowed so
// tests can substitute a fake without standing up an HTTP server.
type GraphAPI interface {
	ListUsers(ctx context.Context, tenantID string) ([]DirectoryUser, error)
	ListLicenseDetails(ctx context.Context, tenantID, directoryUserID string) ([]string, error)
	UsageReport(ctx context.Context, tenantID, reportName, period string) ([]map[string]string, error)
}

// GraphClient is the production GraphAPI, built on the HTTP Client Core.
type GraphClient struct {
	http    *httpclient.Client
	baseURL string
}

func NewGraphClient(client *httpclient.Client, baseURL string) *GraphClient {
	return &GraphClient{http: client, baseURL: baseURL}
}

func (g *GraphClient) ListUsers(ctx context.Context, tenantID string) ([]DirectoryUser, error) {
	url := fmt.Sprintf("%s/users", g.baseURL)
	return httpclient.GetAllPages[DirectoryUser](ctx, g.http, tenantID, url)
}

func (g *GraphClient) ListLicenseDetails(ctx context.Context, tenantID, directoryUserID string) ([]string, error) {
	url := fmt.Sprintf("%s/users/%s/licenseDetails", g.baseURL, directoryUserID)
	details, err := httpclient.GetAllPages[licenseDetail](ctx, g.http, tenantID, url)
	if err != nil {
		return nil, err
	}
	skus := make([]string, 0, len(details))
	for _, d := range details {
		skus = append(skus, d.SkuID)
	}
	return skus, nil
}

// reportEndpoints maps the four usage-report names this system consumes
// to their Graph reports-endpoint function name.
var reportEndpoints = map[string]string{
	ReportEmailActivity:      "getEmailActivityUserDetail",
	ReportOneDriveActivity:   "getOneDriveActivityUserDetail",
	ReportSharePointActivity: "getSharePointActivityUserDetail",
	ReportTeamsActivity:      "getTeamsUserActivityUserDetail",
}

func (g *GraphClient) UsageReport(ctx context.Context, tenantID, reportName, period string) ([]map[string]string, error) {
	fn, ok := reportEndpoints[reportName]
	if !ok {
		return nil, fmt.Errorf("directorysync: unknown usage report %q", reportName)
	}
	url := fmt.Sprintf("%s/reports/%s(period='%s')", g.baseURL, fn, period)
	rows, err := g.http.GetCSV(ctx, tenantID, url)
	if err != nil {
		return nil, err
	}
	return httpclient.CSVToMaps(rows), nil
}

// Usage report names, used both as the reportEndpoints key and as the
// caller-facing vocabulary for UsageReport.
const (
	ReportEmailActivity      = "email_activity"
	ReportOneDriveActivity   = "onedrive_activity"
	ReportSharePointActivity = "sharepoint_activity"
	ReportTeamsActivity      = "teams_activity"
)
