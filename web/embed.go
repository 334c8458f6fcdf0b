package web

import "embed"

// FS contains the embedded brewer control page.
//
//go:embed *.html *.css *.js
var FS embed.FS
