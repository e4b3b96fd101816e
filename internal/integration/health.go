// Package integration checks that the loaded catalog, its message templates
// and the runtime components agree with each other.
package integration

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/deltran/corridorsim/internal/cache"
	"github.com/deltran/corridorsim/internal/corridor"
	"github.com/deltran/corridorsim/internal/iso20022"
	"github.com/deltran/corridorsim/internal/simulation"
	"github.com/deltran/corridorsim/internal/types"
	"github.com/deltran/corridorsim/internal/validation"
	"go.uber.org/zap"
)

var (
	ErrCatalogNotReady   = errors.New("corridor catalog is not ready")
	ErrTemplatesDiverged = errors.New("message templates do not reconcile")
	ErrSessionsExhausted = errors.New("session limit reached")
)

var methods = []types.SettlementMethod{types.MethodSerial, types.MethodCover}

// ComponentStatus represents status of a component
type ComponentStatus struct {
	Name    string                 `json:"name"`
	Healthy bool                   `json:"healthy"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemHealth represents overall system health
type SystemHealth struct {
	Healthy    bool              `json:"healthy"`
	Components []ComponentStatus `json:"components"`
}

// SessionCounter reports live sessions against a limit
type SessionCounter interface {
	Len() int
	Capacity() int
}

// HealthChecker validates integration between components
type HealthChecker struct {
	registry *corridor.Registry
	results  *cache.ResultCache
	sessions SessionCounter
	logger   *zap.Logger
}

// NewHealthChecker creates a new health checker. results and sessions may be
// nil when the component is not running.
func NewHealthChecker(registry *corridor.Registry, results *cache.ResultCache, sessions SessionCounter, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthChecker{
		registry: registry,
		results:  results,
		sessions: sessions,
		logger:   logger,
	}
}

// CheckCatalog validates that corridors are loaded and pass load-time rules
func (hc *HealthChecker) CheckCatalog(ctx context.Context) ComponentStatus {
	status := ComponentStatus{
		Name:    "catalog",
		Details: make(map[string]interface{}),
	}

	if hc.registry == nil || hc.registry.Len() == 0 {
		status.Message = ErrCatalogNotReady.Error()
		return status
	}

	v := validation.New(hc.logger)
	var invalid []string
	for _, c := range hc.registry.List() {
		if ctx.Err() != nil {
			status.Message = ctx.Err().Error()
			return status
		}
		if result := v.ValidateCorridor(c); !result.Valid {
			invalid = append(invalid, c.ID)
		}
	}

	status.Details["corridors"] = hc.registry.Len()
	status.Details["ids"] = hc.registry.IDs()

	if len(invalid) > 0 {
		status.Details["invalid"] = invalid
		status.Message = fmt.Sprintf("invalid corridors: %v", invalid)
		return status
	}

	status.Healthy = true
	status.Message = "catalog is healthy"
	return status
}

// CheckCache reports the result cache counters
func (hc *HealthChecker) CheckCache(ctx context.Context) ComponentStatus {
	status := ComponentStatus{
		Name:    "result_cache",
		Healthy: true,
		Details: make(map[string]interface{}),
	}

	if hc.results == nil {
		status.Message = "result cache disabled"
		return status
	}

	stats := hc.results.Stats()
	status.Details["items"] = stats.Items
	status.Details["hits"] = stats.Hits
	status.Details["misses"] = stats.Misses
	status.Message = "result cache is healthy"
	return status
}

// CheckSessions reports live sessions and fails when the limit is reached
func (hc *HealthChecker) CheckSessions(ctx context.Context) ComponentStatus {
	status := ComponentStatus{
		Name:    "sessions",
		Details: make(map[string]interface{}),
	}

	if hc.sessions == nil {
		status.Healthy = true
		status.Message = "no session store"
		return status
	}

	active, capacity := hc.sessions.Len(), hc.sessions.Capacity()
	status.Details["active"] = active
	status.Details["capacity"] = capacity

	if capacity > 0 && active >= capacity {
		status.Message = ErrSessionsExhausted.Error()
		return status
	}

	status.Healthy = true
	status.Message = "sessions are healthy"
	return status
}

// CheckSystemHealth performs full system health check
func (hc *HealthChecker) CheckSystemHealth(ctx context.Context) SystemHealth {
	components := []ComponentStatus{
		hc.CheckCatalog(ctx),
		hc.CheckCache(ctx),
		hc.CheckSessions(ctx),
	}

	healthy := true
	for _, comp := range components {
		if !comp.Healthy {
			healthy = false
			break
		}
	}

	return SystemHealth{
		Healthy:    healthy,
		Components: components,
	}
}

// TemplateIssue is a structural defect found in one step's message template
type TemplateIssue struct {
	CorridorID string                     `json:"corridor_id"`
	Method     types.SettlementMethod     `json:"method"`
	StepID     int                        `json:"step_id"`
	Errors     []iso20022.ValidationError `json:"errors"`
}

// TemplateAudit is the result of checking every template in the catalog
type TemplateAudit struct {
	Reports []*iso20022.ReconciliationReport `json:"reports"`
	Issues  []TemplateIssue                  `json:"issues"`
}

// Clean reports whether every template reconciles and validates
func (a *TemplateAudit) Clean() bool {
	if len(a.Issues) > 0 {
		return false
	}
	for _, r := range a.Reports {
		if !r.Matched {
			return false
		}
	}
	return true
}

// ValidateTemplates simulates every corridor and method at the default amount
// with shared charges, reconciles the forward templates against the result and
// validates every template structurally. ids limits the audit; none means all.
func (hc *HealthChecker) ValidateTemplates(ctx context.Context, ids ...string) (*TemplateAudit, error) {
	if hc.registry == nil || hc.registry.Len() == 0 {
		return nil, ErrCatalogNotReady
	}
	if len(ids) == 0 {
		ids = hc.registry.IDs()
	}

	audit := &TemplateAudit{}
	for _, id := range ids {
		c, err := hc.registry.Get(id)
		if err != nil {
			return nil, err
		}
		for _, method := range methods {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			result, err := simulation.SimulateCorridor(c, method, c.DefaultAmount, types.ChargeBearerShared)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", c.ID, method, err)
			}
			audit.Reports = append(audit.Reports, iso20022.Reconcile(c.ID, method, result.Steps))

			validator := iso20022.NewValidator(currencies(result.Steps), true)
			for _, d := range result.Steps {
				res, err := validator.Validate(d.Step.MessageType, []byte(d.Step.MessageTemplate))
				if err != nil {
					return nil, fmt.Errorf("%s/%s step %d: %w", c.ID, method, d.Step.ID, err)
				}
				if !res.Valid {
					audit.Issues = append(audit.Issues, TemplateIssue{
						CorridorID: c.ID,
						Method:     method,
						StepID:     d.Step.ID,
						Errors:     res.Errors,
					})
				}
			}
		}
	}

	hc.logger.Debug("Template audit finished",
		zap.Int("reports", len(audit.Reports)),
		zap.Int("issues", len(audit.Issues)),
		zap.Bool("clean", audit.Clean()),
	)
	return audit, nil
}

// FullValidation performs complete system validation
func (hc *HealthChecker) FullValidation(ctx context.Context) []error {
	var errs []error

	// Check basic health
	health := hc.CheckSystemHealth(ctx)
	if !health.Healthy {
		for _, comp := range health.Components {
			if !comp.Healthy {
				errs = append(errs, fmt.Errorf("%s: %s", comp.Name, comp.Message))
			}
		}
		return errs
	}

	audit, err := hc.ValidateTemplates(ctx)
	if err != nil {
		return append(errs, fmt.Errorf("templates: %w", err))
	}
	for _, r := range audit.Reports {
		for _, l := range r.Mismatches() {
			errs = append(errs, fmt.Errorf("%w: %s/%s step %d authored %s %s, simulated %s %s",
				ErrTemplatesDiverged, r.CorridorID, r.Method, l.StepID,
				l.Authored, l.AuthoredCcy, l.Simulated, l.SimulatedCcy))
		}
	}
	for _, issue := range audit.Issues {
		errs = append(errs, fmt.Errorf("%s/%s step %d: %d template errors", issue.CorridorID, issue.Method, issue.StepID, len(issue.Errors)))
	}

	return errs
}

// currencies lists every currency the derived steps pass through
func currencies(steps []types.DerivedStep) []string {
	seen := make(map[string]bool)
	for _, d := range steps {
		seen[d.CurrencyBefore] = true
		seen[d.RunningCurrency] = true
	}
	out := make([]string, 0, len(seen))
	for ccy := range seen {
		out = append(out, ccy)
	}
	sort.Strings(out)
	return out
}
