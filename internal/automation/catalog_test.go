package automation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/automation"
	"crmflow/internal/logger"
	"crmflow/internal/store/memory"
)

func TestCatalogServesCachedRulesAfterReload(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateRule(ctx, &automation.Rule{Name: "a", TriggerType: automation.LeadCreated, IsActive: true, Priority: 1}))
	require.NoError(t, store.CreateRule(ctx, &automation.Rule{Name: "b", TriggerType: automation.LeadCreated, IsActive: true, Priority: 3}))
	require.NoError(t, store.CreateRule(ctx, &automation.Rule{Name: "c", TriggerType: automation.TaskCompleted, IsActive: true}))
	require.NoError(t, store.CreateRule(ctx, &automation.Rule{Name: "off", TriggerType: automation.LeadCreated}))

	catalog := automation.NewCatalog(store, time.Minute, logger.NopLogger())

	rules, err := catalog.ActiveRules(ctx, automation.LeadCreated)
	require.NoError(t, err)
	assert.Len(t, rules, 2, "falls through to the repository before the first load")

	require.NoError(t, catalog.ReloadRules(ctx))

	require.NoError(t, store.CreateRule(ctx, &automation.Rule{Name: "late", TriggerType: automation.LeadCreated, IsActive: true}))
	rules, err = catalog.ActiveRules(ctx, automation.LeadCreated)
	require.NoError(t, err)
	require.Len(t, rules, 2, "cache is not refreshed until the next reload")
	assert.Equal(t, "b", rules[0].Name)
	assert.Equal(t, "a", rules[1].Name)

	require.NoError(t, catalog.ReloadRules(ctx))
	rules, err = catalog.ActiveRules(ctx, automation.LeadCreated)
	require.NoError(t, err)
	assert.Len(t, rules, 3)

	rules, err = catalog.ActiveRules(ctx, automation.ContractSigned)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestCatalogReloaderStopsOnCancel(t *testing.T) {
	catalog := automation.NewCatalog(memory.New(), 10*time.Millisecond, logger.NopLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- catalog.StartReloader(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reloader did not stop")
	}
}
