package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dersa/ecoquality/internal/shared"
)

// ModuleSeed describes a module and the permissions it owns.
type ModuleSeed struct {
	Key         string
	DisplayName string
	Permissions []string
}

// RoleSeed describes a role with its grant and deny edges.
type RoleSeed struct {
	Key         string
	DisplayName string
	System      bool
	Grants      []string
	Denies      []string
}

// Catalog is the bootstrap content of the permission graph.
type Catalog struct {
	Modules []ModuleSeed
	Roles   []RoleSeed
}

// BootstrapReport counts what Bootstrap created.
type BootstrapReport struct {
	Modules     int
	Permissions int
	Roles       int
	Edges       int
}

// DefaultCatalog returns the factory modules, permissions and system roles.
func DefaultCatalog() Catalog {
	all := append(shared.CoreScopes(), shared.FactoryScopes()...)
	return Catalog{
		Modules: modulesFromKeys(all, map[string]string{
			"admin":         "Administration",
			"dashboard":     "Dashboard",
			"production":    "Production",
			"raw_materials": "Raw Materials",
			"quality":       "Quality Control",
			"energy":        "Energy Monitoring",
			"waste":         "Waste Management",
			"heat_recovery": "Heat Recovery",
			"compliance":    "ISO Compliance",
			"campaigns":     "Testing Campaigns",
		}),
		Roles: []RoleSeed{
			{
				Key:    "admin",
				System: true,
				Grants: all,
			},
			{
				Key:    "quality_technician",
				System: true,
				Grants: []string{
					shared.PermDashboardView,
					shared.PermLotView,
					shared.PermQualityTestView, shared.PermQualityTestCreate, shared.PermQualityTestEdit,
					shared.PermStandardView,
					shared.PermDocumentView,
					shared.PermCampaignView,
					shared.PermRawMaterialView, shared.PermPowderPrepView,
				},
				Denies: []string{shared.PermQualityTestApprove, shared.PermDocumentDelete},
			},
			{
				Key:    "production_manager",
				System: true,
				Grants: []string{
					shared.PermDashboardView,
					shared.PermLotView, shared.PermLotCreate, shared.PermLotEdit, shared.PermLotDelete,
					shared.PermRawMaterialView, shared.PermRawMaterialCreate,
					shared.PermPowderPrepView, shared.PermPowderPrepCreate,
					shared.PermQualityTestView, shared.PermQualityTestApprove,
					shared.PermStandardView,
					shared.PermEnergyView,
					shared.PermWasteView,
					shared.PermCampaignView, shared.PermCampaignManage,
					shared.PermDocumentView,
				},
			},
			{
				Key:    "environment_manager",
				System: true,
				Grants: []string{
					shared.PermDashboardView,
					shared.PermEnergyView, shared.PermEnergyCreate, shared.PermEnergyDelete,
					shared.PermWasteView, shared.PermWasteCreate, shared.PermWasteDelete,
					shared.PermHeatRecoveryView, shared.PermHeatRecoveryCreate,
					shared.PermDocumentView, shared.PermDocumentUpload,
				},
			},
			{
				Key:    "maintenance",
				System: true,
				Grants: []string{
					shared.PermDashboardView,
					shared.PermEnergyView, shared.PermEnergyCreate,
					shared.PermHeatRecoveryView, shared.PermHeatRecoveryCreate,
				},
				Denies: []string{shared.PermEnergyDelete},
			},
			{
				Key:    "operator",
				System: true,
			},
		},
	}
}

func modulesFromKeys(keys []string, names map[string]string) []ModuleSeed {
	var (
		order []string
		perms = make(map[string][]string)
	)
	for _, key := range keys {
		module, _, _ := strings.Cut(key, ".")
		if _, ok := perms[module]; !ok {
			order = append(order, module)
		}
		perms[module] = append(perms[module], key)
	}
	out := make([]ModuleSeed, 0, len(order))
	for _, module := range order {
		out = append(out, ModuleSeed{Key: module, DisplayName: names[module], Permissions: perms[module]})
	}
	return out
}

// Bootstrap loads a catalog into the store. It is idempotent: existing
// modules, permissions and roles are reused. Grant and deny edges are
// written only for roles created by this call, so later administrative
// changes to seeded roles survive a rerun.
func Bootstrap(ctx context.Context, svc *Service, catalog Catalog) (BootstrapReport, error) {
	var report BootstrapReport
	moduleIDs := make(map[string]int64)
	existingModules, err := svc.ListModules(ctx)
	if err != nil {
		return report, err
	}
	for _, m := range existingModules {
		moduleIDs[m.Key] = m.ID
	}
	permIDs := make(map[string]int64)
	for _, ms := range catalog.Modules {
		key := NormalizeKey(ms.Key)
		if _, ok := moduleIDs[key]; !ok {
			m, err := svc.RegisterModule(ctx, key, ms.DisplayName)
			if err != nil {
				return report, fmt.Errorf("rbac: bootstrap module %s: %w", key, err)
			}
			moduleIDs[key] = m.ID
			report.Modules++
		}
		for _, pk := range ms.Permissions {
			p, err := svc.GetPermissionByKey(ctx, pk)
			if errors.Is(err, ErrUnknownPermission) {
				p, err = svc.RegisterPermission(ctx, pk, "", moduleIDs[key])
				if err == nil {
					report.Permissions++
				}
			}
			if err != nil {
				return report, fmt.Errorf("rbac: bootstrap permission %s: %w", pk, err)
			}
			permIDs[p.Key] = p.ID
		}
	}
	for _, rs := range catalog.Roles {
		_, err := svc.GetRoleByKey(ctx, rs.Key)
		if err == nil {
			// Edges of existing roles belong to administrators.
			continue
		}
		if !errors.Is(err, ErrUnknownRole) {
			return report, fmt.Errorf("rbac: bootstrap role %s: %w", rs.Key, err)
		}
		role, err := svc.CreateRole(ctx, rs.Key, rs.DisplayName, rs.System)
		if err != nil {
			return report, fmt.Errorf("rbac: bootstrap role %s: %w", rs.Key, err)
		}
		report.Roles++
		for _, pk := range rs.Grants {
			id, ok := permIDs[NormalizeKey(pk)]
			if !ok {
				return report, fmt.Errorf("rbac: bootstrap role %s: %w: %s", rs.Key, ErrUnknownPermission, pk)
			}
			if _, err := svc.Grant(ctx, role.ID, id); err != nil {
				return report, err
			}
			report.Edges++
		}
		for _, pk := range rs.Denies {
			id, ok := permIDs[NormalizeKey(pk)]
			if !ok {
				return report, fmt.Errorf("rbac: bootstrap role %s: %w: %s", rs.Key, ErrUnknownPermission, pk)
			}
			if _, err := svc.Deny(ctx, role.ID, id); err != nil {
				return report, err
			}
			report.Edges++
		}
	}
	return report, nil
}
