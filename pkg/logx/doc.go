// Package logx provides structured logging for the bot.
//
// It wraps zerolog behind a small Field-based API so call sites never depend
// on zerolog directly, and keeps the root logger swappable at runtime so a
// config reload can change levels and sinks without re-wiring every component.
//
// Sinks: console (pretty), file (JSON lines), and an optional rate-limited
// Telegram sink that forwards WARN+ records to an operator chat.
package logx
