// Package db embeds the coupon engine schema.
package db

import _ "embed"

// Schema holds idempotent DDL for coupons, discount details, restrictions,
// redemptions with their status history, and API keys.
//
//go:embed migrations/001_schema.sql
var Schema string
