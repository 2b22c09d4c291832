// Package setup holds host defaults and checks: where the images config and
// cache live, and whether the tools a run shells out to are installed.
//
// This package is a collection of scripts and constants, and is therefore the
// only package that is allowed to call a global logger.
package setup
