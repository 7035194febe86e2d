// Package web embeds the document templates and their stylesheets.
package web

import "embed"

// Templates embeds HTML templates.
//
//go:embed templates/pdf/*.html
var Templates embed.FS

// Static embeds static assets.
//
//go:embed static/css/*.css
var Static embed.FS
