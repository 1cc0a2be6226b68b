package autobump

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/deptex/watchtower/pkg/httputil"
	"github.com/deptex/watchtower/pkg/logger"
	"github.com/deptex/watchtower/pkg/ratelimit"
)

var prLog = logger.New("watchtower:autobump:pr")

// BumpPRResult is the PR sub-service response. Either the PR fields or Error
// is set; both shapes are non-fatal to the orchestrator.
type BumpPRResult struct {
	PRURL         string `json:"pr_url,omitempty"`
	PRNumber      int    `json:"pr_number,omitempty"`
	AlreadyExists bool   `json:"already_exists,omitempty"`
	Error         string `json:"error,omitempty"`
}

// PRClient dispatches bump PR requests for one project
type PRClient interface {
	CreateBumpPR(ctx context.Context, orgID, projectID, packageName, targetVersion, currentVersion string) (*BumpPRResult, error)
}

// HTTPPRClient calls the PR sub-service over HTTP, behind a circuit breaker
// so a dead service does not add latency to every candidate
type HTTPPRClient struct {
	endpoint string
	http     *httputil.Client
	breaker  *gobreaker.CircuitBreaker
}

var _ PRClient = (*HTTPPRClient)(nil)

// NewHTTPPRClient creates a client against the given service endpoint. PR
// creation clones and pushes on the service side, so the timeout is generous.
func NewHTTPPRClient(endpoint string) *HTTPPRClient {
	return &HTTPPRClient{
		endpoint: endpoint,
		http:     httputil.NewClient(ratelimit.OperationPRService, 2*time.Minute),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "pr-service",
			Timeout: 30 * time.Second,
		}),
	}
}

// bumpPRRequest is the wire shape of a PR creation request
type bumpPRRequest struct {
	OrganizationID string `json:"organization_id"`
	ProjectID      string `json:"project_id"`
	PackageName    string `json:"package_name"`
	TargetVersion  string `json:"target_version"`
	CurrentVersion string `json:"current_version,omitempty"`
}

// CreateBumpPR implements PRClient. The service encodes per-project failures
// as {error} with a 200; non-200 statuses are transport-level failures and
// trip the breaker.
func (c *HTTPPRClient) CreateBumpPR(ctx context.Context, orgID, projectID, packageName, targetVersion, currentVersion string) (*BumpPRResult, error) {
	request := bumpPRRequest{
		OrganizationID: orgID,
		ProjectID:      projectID,
		PackageName:    packageName,
		TargetVersion:  targetVersion,
		CurrentVersion: currentVersion,
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var parsed BumpPRResult
		if err := c.http.PostJSON(ctx, c.endpoint, request, &parsed); err != nil {
			return nil, err
		}
		return &parsed, nil
	})
	if err != nil {
		return nil, err
	}

	parsed := result.(*BumpPRResult)
	prLog.Printf("PR service responded for %s/%s: url=%s error=%q", orgID, projectID, parsed.PRURL, parsed.Error)
	return parsed, nil
}
