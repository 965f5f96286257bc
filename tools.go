//go:build tools
// +build tools

// Tracks code generators used through go generate.
package main

import (
	_ "go.uber.org/mock/mockgen"
)
