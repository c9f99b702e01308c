// Package logx configures watchmebot's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - console output is human readable (short timestamp + file:line caller)
//   - file output is JSON, one event per line
//   - an optional Telegram sink forwards WARN+ events to a log chat (rate limited)
//
// The zero Logger is a safe no-op.
package logx
