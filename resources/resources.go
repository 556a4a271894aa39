// Package resources embeds the default locator strategy files.
package resources

import "embed"

//go:embed locators/*.yaml
var LocatorFiles embed.FS
