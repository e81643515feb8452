package web

import (
	"embed"
)

// staticFiles holds the control page.
//
//go:embed static/*
var staticFiles embed.FS
