// Package logx wraps zerolog behind a small Field-based API.
//
// It fans log lines out to the console, an optional append-only file, and an
// optional rate-limited Telegram chat (the operator audit sink).
package logx
