// Package db embeds the storefront schema so the server and the seeding
// tools migrate from the same source.
package db

import _ "embed"

// Schema holds the DDL for products, orders, the coupon tables and the
// newsletter roll. Idempotent, executed on boot.
//
//go:embed migrations/001_schema.sql
var Schema string
