// SPDX-License-Identifier: MPL-2.0

// Package repository maintains the Repository Index: an ordered set of remote
// catalogs whose module descriptors are exposed as one combined listing.
//
// A catalog is a TOML document (YAML when the URL ends in .yaml or .yml):
//
//	[[module]]
//	id = "org.orbisgis.core"
//	version = "5.1.0"
//	name = "Core"
//	category = "gis,core"
//	location = "core-5.1.0.pkg"
//
//	[[module.requires]]
//	id = "org.orbisgis.commons"
//	version = ">=1.2"
//
// Relative locations resolve against the catalog URL.
package repository
