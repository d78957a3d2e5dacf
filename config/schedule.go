package config

import (
	"fmt"

	"github.com/gorhill/cronexpr"
)

// ParseSweepCron parses the session janitor schedule.
func ParseSweepCron(spec string) (*cronexpr.Expression, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("session.sweep_cron: %w", err)
	}
	return expr, nil
}
