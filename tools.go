//go:build tools
// +build tools

// Package tools declares tool dependencies for this module.
//
// These imports are not used at runtime. They keep go.uber.org/mock/mockgen,
// run by go generate, pinned in go.mod.
package chat_core

import (
	_ "go.uber.org/mock/mockgen"
)
