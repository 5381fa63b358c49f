package webassets

import "embed"

// FS contains embedded web assets from this directory.

//go:embed bridge.html
var FS embed.FS
