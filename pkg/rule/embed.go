package rule

import "embed"

// builtinRulesFS embeds the bundled rule catalogue. Each file's stem is its
// symbolic name on the command line (--rules default).
//
//go:embed rules/*
var builtinRulesFS embed.FS
