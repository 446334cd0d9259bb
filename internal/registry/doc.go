// Package registry keeps the hub's entities and devices.
//
// The SQLite repository persists them in the registry_entities and
// registry_devices tables. Registry caches both in memory and answers the
// synchronous lookups the permission engine makes while compiling
// device_ids and area_ids policies.
package registry
