package config

import (
	"errors"
	"fmt"

	"soundmeter/internal/model"
	"soundmeter/internal/timeslot"
)

var ErrInvalidSettings = errors.New("invalid settings")

// DefaultSettings mirrors the seed rows written on first database init.
func DefaultSettings() model.Settings {
	return model.Settings{
		TimeSlots: []model.TimeSlot{
			{ID: 1, Start: "11:30:00", End: "12:00:00", Name: "Period 1"},
			{ID: 2, Start: "12:00:00", End: "12:30:00", Name: "Period 2"},
			{ID: 3, Start: "12:30:00", End: "13:00:00", Name: "Period 3"},
			{ID: 4, Start: "13:00:00", End: "13:30:00", Name: "Period 4"},
		},
		Thresholds: model.Thresholds{
			InstantDb:            85,
			AverageDb:            75,
			AverageWindowMinutes: 5,
			CooldownMinutes:      5,
			Enabled:              false,
		},
		Zones:               model.Zones{OrangeDb: 60, RedDb: 80},
		CalibrationOffsetDb: 0,
		TickIntervalMs:      1000,
		Email:               model.EmailSettings{SMTPPort: 25},
	}
}

// ValidateSettings is applied wherever settings enter the system so that a
// bad record is rejected before any evaluator reads it.
func ValidateSettings(s model.Settings) error {
	if err := timeslot.Validate(s.TimeSlots); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	th := s.Thresholds
	if th.InstantDb < 0 || th.AverageDb < 0 {
		return fmt.Errorf("%w: thresholds must be >= 0", ErrInvalidSettings)
	}
	if th.AverageWindowMinutes <= 0 {
		return fmt.Errorf("%w: average_time_window_minutes must be > 0", ErrInvalidSettings)
	}
	if th.CooldownMinutes < 0 {
		return fmt.Errorf("%w: cooldown_minutes must be >= 0", ErrInvalidSettings)
	}
	if s.Zones.OrangeDb < 0 || s.Zones.RedDb < s.Zones.OrangeDb {
		return fmt.Errorf("%w: zone thresholds must satisfy 0 <= orange <= red", ErrInvalidSettings)
	}
	if s.TickIntervalMs < 100 || s.TickIntervalMs > 10000 {
		return fmt.Errorf("%w: visual_update_rate must be within [100, 10000] ms", ErrInvalidSettings)
	}
	if s.Email.SMTPPort < 0 || s.Email.SMTPPort > 65535 {
		return fmt.Errorf("%w: smtp_port out of range", ErrInvalidSettings)
	}
	return nil
}
