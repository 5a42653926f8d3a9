package shared

// Factory floor permissions declared for RBAC. The record-keeping modules
// that own these endpoints enforce them through rbac.Middleware.
const (
	PermDashboardView = "dashboard.kpi.view"

	// Production lots
	PermLotView   = "production.lot.view"
	PermLotCreate = "production.lot.create"
	PermLotEdit   = "production.lot.edit"
	PermLotDelete = "production.lot.delete"

	// Raw materials and powder preparation
	PermRawMaterialView   = "raw_materials.reception.view"
	PermRawMaterialCreate = "raw_materials.reception.create"
	PermPowderPrepView    = "raw_materials.powder.view"
	PermPowderPrepCreate  = "raw_materials.powder.create"

	// Quality tests against dimensional and physical standards
	PermQualityTestView    = "quality.test.view"
	PermQualityTestCreate  = "quality.test.create"
	PermQualityTestEdit    = "quality.test.edit"
	PermQualityTestApprove = "quality.test.approve"
	PermQualityTestDelete  = "quality.test.delete"
	PermStandardView       = "quality.standard.view"
	PermStandardManage     = "quality.standard.manage"

	// Energy consumption
	PermEnergyView   = "energy.record.view"
	PermEnergyCreate = "energy.record.create"
	PermEnergyDelete = "energy.record.delete"

	// Waste
	PermWasteView   = "waste.record.view"
	PermWasteCreate = "waste.record.create"
	PermWasteDelete = "waste.record.delete"

	// Heat recovery
	PermHeatRecoveryView   = "heat_recovery.record.view"
	PermHeatRecoveryCreate = "heat_recovery.record.create"

	// Compliance documents
	PermDocumentView   = "compliance.document.view"
	PermDocumentUpload = "compliance.document.upload"
	PermDocumentDelete = "compliance.document.delete"

	// Testing campaigns
	PermCampaignView   = "campaigns.campaign.view"
	PermCampaignManage = "campaigns.campaign.manage"
)

// FactoryScopes lists the permissions of the factory modules.
func FactoryScopes() []string {
	return []string{
		PermDashboardView,
		PermLotView, PermLotCreate, PermLotEdit, PermLotDelete,
		PermRawMaterialView, PermRawMaterialCreate, PermPowderPrepView, PermPowderPrepCreate,
		PermQualityTestView, PermQualityTestCreate, PermQualityTestEdit, PermQualityTestApprove, PermQualityTestDelete,
		PermStandardView, PermStandardManage,
		PermEnergyView, PermEnergyCreate, PermEnergyDelete,
		PermWasteView, PermWasteCreate, PermWasteDelete,
		PermHeatRecoveryView, PermHeatRecoveryCreate,
		PermDocumentView, PermDocumentUpload, PermDocumentDelete,
		PermCampaignView, PermCampaignManage,
	}
}
