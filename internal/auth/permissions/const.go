package permissions

// Categories.
const (
	CatEntities = "entities"
)

// Entity subcategories, in evaluation order.
const (
	SubcatEntityIDs = "entity_ids"
	SubcatDeviceIDs = "device_ids"
	SubcatAreaIDs   = "area_ids"
	SubcatDomains   = "domains"
	SubcatAll       = "all"
)

// Permission kinds.
const (
	PolicyRead    = "read"
	PolicyControl = "control"
	PolicyEdit    = "edit"
)
