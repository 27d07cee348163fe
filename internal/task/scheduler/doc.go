// Package scheduler parses step cadence strings and computes the next fire time.
//
// A cadence is either a fixed interval ("30s", "2h30m", "00:05") or a cron expression
// ("*/5 * * * *", "@hourly", "@every 55m"). Execution belongs to internal/task/engine.
package scheduler
