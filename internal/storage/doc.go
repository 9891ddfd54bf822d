// Package storage provides the sqlite persistence layer for the bot.
//
// It holds:
//   - Broadcast rows (the durable half of every armed timer)
//   - The recipient registry
//   - An audit log of campaign outcomes
//
// Migrations are additive only: opening an older database upgrades it in
// place without rewriting or dropping existing data.
package storage
