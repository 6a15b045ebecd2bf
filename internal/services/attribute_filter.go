package services

import (
	"strings"
	"sync"

	"geoengage/internal/models"
	"geoengage/pkg/logger"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type filterKey struct {
	campaignID primitive.ObjectID
	expression string
}

type compiledFilter struct {
	program *vm.Program
	err     error
}

// AttributeFilter evaluates campaign filter expressions against device
// attributes. Compiled programs are cached per campaign and expression, so an
// edited expression is compiled again. Anything other than a boolean true
// rejects the device.
type AttributeFilter struct {
	mu       sync.RWMutex
	compiled map[filterKey]*compiledFilter
	logger   *logger.Logger
}

func NewAttributeFilter(log *logger.Logger) *AttributeFilter {
	return &AttributeFilter{
		compiled: make(map[filterKey]*compiledFilter),
		logger:   log.WithField("component", "attribute_filter"),
	}
}

func (f *AttributeFilter) Matches(campaign *models.Campaign, device *models.Device) bool {
	expression := strings.TrimSpace(campaign.Filter)
	if expression == "" {
		return true
	}

	compiled := f.compile(campaign.ID, expression)
	if compiled.err != nil {
		return false
	}

	output, err := expr.Run(compiled.program, filterEnv(device))
	if err != nil {
		f.logger.WithCampaignID(campaign.ID).WithDeviceID(device.ID).WithError(err).Warn("Filter evaluation failed")
		return false
	}

	matched, ok := output.(bool)
	if !ok {
		f.logger.WithCampaignID(campaign.ID).Warnf("Filter returned %T, expected bool", output)
		return false
	}
	return matched
}

func (f *AttributeFilter) compile(campaignID primitive.ObjectID, expression string) *compiledFilter {
	key := filterKey{campaignID: campaignID, expression: expression}

	f.mu.RLock()
	cached, ok := f.compiled[key]
	f.mu.RUnlock()
	if ok {
		return cached
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	cached = &compiledFilter{program: program, err: err}
	if err != nil {
		f.logger.WithCampaignID(campaignID).WithError(err).Error("Invalid campaign filter")
	}

	f.mu.Lock()
	f.compiled[key] = cached
	f.mu.Unlock()

	return cached
}

// filterEnv exposes the device attributes as top level variables next to
// client_id and platform.
func filterEnv(device *models.Device) map[string]interface{} {
	env := make(map[string]interface{}, len(device.Attributes)+2)
	for k, v := range device.Attributes {
		env[k] = v
	}
	env["client_id"] = device.ClientID
	env["platform"] = string(device.Platform)
	return env
}
