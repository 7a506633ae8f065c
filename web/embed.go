// Package web holds the upload page and gallery front end.
package web

import "embed"

//go:embed index.html script.js 404.html
var Assets embed.FS

// NotFoundPage is served for any path that matches no asset.
const NotFoundPage = "404.html"
