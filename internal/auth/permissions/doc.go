// Package permissions evaluates group policies against entities.
//
// A Policy maps a category (only "entities" today) to one of:
//   - true: everything in the category is allowed
//   - false or nil: nothing is allowed
//   - a map of subcategories
//
// Entity subcategories are checked in a fixed order and the first true leaf
// wins:
//
//	entity_ids -> device_ids -> area_ids -> domains -> all
//
// A leaf is either a bool or a map of permission kinds (read, control,
// edit) to bool. Anything that is not true falls through to the next
// subcategory, and an entity no subcategory grants is denied.
//
// Example, allowing control of every light plus read access to one sensor:
//
//	{
//	  "entities": {
//	    "domains":    {"light": {"control": true}},
//	    "entity_ids": {"sensor.porch": {"read": true}}
//	  }
//	}
//
// Policies of several groups are combined with MergePolicies, where the most
// permissive value wins.
package permissions
