// Package web embeds the UI assets so the binary ships self-contained.
package web

import "embed"

// TemplatesFS holds the HTML pages and htmx partials.
//
//go:embed templates/*.html
var TemplatesFS embed.FS

// StaticFS holds stylesheets and other static assets.
//
//go:embed static/*
var StaticFS embed.FS
