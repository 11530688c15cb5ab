//go:build tools

// This file pins github.com/pressly/goose/v3 as a direct dependency.
package db

import _ "github.com/pressly/goose/v3"
