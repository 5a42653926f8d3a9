package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeEffectiveDenyOverridesGrant(t *testing.T) {
	set := ComputeEffective([]string{"quality_technician", "production_manager"}, []EdgeRow{
		{RoleKey: "production_manager", PermissionKey: "quality.test.approve", Granted: true},
		{RoleKey: "quality_technician", PermissionKey: "quality.test.approve", Granted: false},
		{RoleKey: "quality_technician", PermissionKey: "quality.test.create", Granted: true},
	})

	allowed, reason := set.Evaluate("quality.test.approve")
	assert.False(t, allowed)
	assert.Equal(t, ReasonExplicitDeny, reason)

	allowed, reason = set.Evaluate("quality.test.create")
	assert.True(t, allowed)
	assert.Equal(t, ReasonGranted, reason)

	assert.Equal(t, []string{"quality.test.create"}, set.Granted)
	assert.Equal(t, []string{"quality.test.approve"}, set.Denied)
	assert.Equal(t, []string{"production_manager", "quality_technician"}, set.Roles)
}

func TestEvaluateReasons(t *testing.T) {
	empty := ComputeEffective(nil, nil)
	allowed, reason := empty.Evaluate("energy.record.view")
	assert.False(t, allowed)
	assert.Equal(t, ReasonNoRoles, reason)

	operator := ComputeEffective([]string{"operator"}, nil)
	allowed, reason = operator.Evaluate("energy.record.view")
	assert.False(t, allowed)
	assert.Equal(t, ReasonNoGrant, reason)
}

func TestEvaluateNormalizesKey(t *testing.T) {
	set := ComputeEffective([]string{"maintenance"}, []EdgeRow{
		{RoleKey: "maintenance", PermissionKey: "Energy.Record.Create", Granted: true},
	})
	assert.True(t, set.Permitted("  energy.record.CREATE "))
}

func TestHasAnyHasAll(t *testing.T) {
	set := ComputeEffective([]string{"maintenance"}, []EdgeRow{
		{RoleKey: "maintenance", PermissionKey: "energy.record.view", Granted: true},
		{RoleKey: "maintenance", PermissionKey: "energy.record.create", Granted: true},
		{RoleKey: "maintenance", PermissionKey: "energy.record.delete", Granted: false},
	})
	assert.True(t, set.HasAny("energy.record.delete", "energy.record.view"))
	assert.False(t, set.HasAny("energy.record.delete", "waste.record.view"))
	assert.True(t, set.HasAll("energy.record.view", "energy.record.create"))
	assert.False(t, set.HasAll("energy.record.view", "energy.record.delete"))
	assert.True(t, set.HasAny())
	assert.True(t, set.HasAll())
}

func TestIndexRebuildsAfterDecode(t *testing.T) {
	set := EffectiveSet{
		Roles:   []string{"operator"},
		Granted: []string{"dashboard.kpi.view"},
		Denied:  []string{"energy.record.delete"},
	}
	allowed, reason := set.Evaluate("dashboard.kpi.view")
	assert.True(t, allowed)
	assert.Equal(t, ReasonGranted, reason)
	_, reason = set.Evaluate("energy.record.delete")
	assert.Equal(t, ReasonExplicitDeny, reason)
}
