// Package logx is socialsim's structured logging layer.
//
// Components take a logx.Logger by value. The zero value is a no-op, so tests and
// optional collaborators never need nil checks. Output is driven by a Service:
//   - console (human readable, short caller)
//   - JSON file
//   - Telegram alerts for warn+ events, rate limited
package logx
