// Package drills embeds the built-in problem catalog.
package drills

import "embed"

// FS holds one YAML pack per language.
//
//go:embed *.yaml
var FS embed.FS
