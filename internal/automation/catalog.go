package automation

import (
	"context"
	"sync"
	"time"

	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/pkg/metrics"
)

// Catalog caches active rules grouped by trigger. It is refreshed on a ticker and whenever a
// configuration update event arrives, so the dispatcher does not query the database per event.
type Catalog struct {
	repo     RuleRepository
	interval time.Duration
	logger   logger.Logger

	mu        sync.RWMutex
	byTrigger map[TriggerType][]Rule
	loaded    bool
}

func NewCatalog(repo RuleRepository, interval time.Duration, log logger.Logger) *Catalog {
	if interval <= 0 {
		interval = constants.DefaultReloadInterval * time.Second
	}
	return &Catalog{
		repo:      repo,
		interval:  interval,
		logger:    log,
		byTrigger: make(map[TriggerType][]Rule),
	}
}

// ActiveRules serves from the cache once it has been loaded and falls through to the repository before that.
func (c *Catalog) ActiveRules(ctx context.Context, trigger TriggerType) ([]Rule, error) {
	c.mu.RLock()
	if c.loaded {
		cached := c.byTrigger[trigger]
		rules := make([]Rule, len(cached))
		copy(rules, cached)
		c.mu.RUnlock()
		return rules, nil
	}
	c.mu.RUnlock()

	return c.repo.ActiveRules(ctx, trigger)
}

func (c *Catalog) ReloadRules(ctx context.Context) error {
	c.logger.DebugwCtx(ctx, "Loading rules from database")
	rules, err := c.repo.ListActiveRules(ctx)
	if err != nil {
		return err
	}

	grouped := make(map[TriggerType][]Rule)
	for _, rule := range rules {
		grouped[rule.TriggerType] = append(grouped[rule.TriggerType], rule)
	}

	c.mu.Lock()
	c.byTrigger = grouped
	c.loaded = true
	c.mu.Unlock()

	metrics.SetActiveRules(len(rules))
	c.logger.InfowCtx(ctx, "Successfully reloaded rules",
		"rules_count", len(rules),
		"triggers", len(grouped),
	)
	return nil
}

func (c *Catalog) StartReloader(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	if err := c.ReloadRules(ctx); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to reload rules",
			"error", err,
		)
	}

	for {
		select {
		case <-ticker.C:
			if err := c.ReloadRules(ctx); err != nil {
				c.logger.ErrorwCtx(ctx, "Failed to reload rules",
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
