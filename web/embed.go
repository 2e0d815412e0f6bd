package web

import "embed"

// StaticFS embeds the landing page and its assets.
//
//go:embed static/*
var StaticFS embed.FS
