//go:build !debug

// Package debug provides assertions that compile away to nothing unless
// the repo is built with -tags debug.
package debug

func ON() bool { return false }

func Assert(_ bool, _ ...any)            {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)                {}
func Func(_ func())                      {}
