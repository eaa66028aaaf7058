package routines

import "fmt"

// EnergyProfile sets how chatty a room's default routines are.
type EnergyProfile string

const (
	EnergyQuiet    EnergyProfile = "quiet"
	EnergyBalanced EnergyProfile = "balanced"
	EnergyActive   EnergyProfile = "active"
)

type profileTiming struct {
	teamCheckInMs int64
	roomPulseMs   int64
	botFocusMs    int64
}

var profileTimings = map[EnergyProfile]profileTiming{
	EnergyQuiet:    {teamCheckInMs: 4 * 3600_000, roomPulseMs: 8 * 3600_000, botFocusMs: 12 * 3600_000},
	EnergyBalanced: {teamCheckInMs: 2 * 3600_000, roomPulseMs: 4 * 3600_000, botFocusMs: 6 * 3600_000},
	EnergyActive:   {teamCheckInMs: 3600_000, roomPulseMs: 2 * 3600_000, botFocusMs: 3 * 3600_000},
}

// SeedDefaults installs a room's standing routines for the chosen
// energy profile. Already-seeded rooms are left alone.
func (s *Scheduler) SeedDefaults(roomID string, profile EnergyProfile) error {
	timing, ok := profileTimings[profile]
	if !ok {
		return fmt.Errorf("unknown energy profile %q", profile)
	}

	seeds := []*Routine{
		{
			ID:       fmt.Sprintf("%s-team_check_in", roomID),
			Name:     "Team check-in",
			Enabled:  true,
			Schedule: Schedule{Kind: ScheduleEvery, EveryMs: timing.teamCheckInMs},
			Payload: Payload{
				Kind:    PayloadSystemEvent,
				Routine: "team_check_in",
				Scope:   "system",
				Metadata: map[string]string{
					"room_id": roomID,
				},
			},
		},
		{
			ID:       fmt.Sprintf("%s-room_pulse", roomID),
			Name:     "Room pulse",
			Enabled:  true,
			Schedule: Schedule{Kind: ScheduleEvery, EveryMs: timing.roomPulseMs},
			Payload: Payload{
				Kind:    PayloadSystemEvent,
				Routine: "room_pulse",
				Scope:   "system",
				Metadata: map[string]string{
					"room_id": roomID,
				},
			},
		},
		{
			ID:       fmt.Sprintf("%s-bot_focus", roomID),
			Name:     "Bot focus rotation",
			Enabled:  true,
			Schedule: Schedule{Kind: ScheduleEvery, EveryMs: timing.botFocusMs},
			Payload: Payload{
				Kind:    PayloadSystemEvent,
				Routine: "bot_focus",
				Scope:   "system",
				Metadata: map[string]string{
					"room_id": roomID,
				},
			},
		},
	}

	for _, r := range seeds {
		s.mu.Lock()
		_, exists := s.jobs[r.ID]
		s.mu.Unlock()
		if exists {
			continue
		}
		if _, err := s.AddRoutine(r); err != nil {
			return err
		}
	}
	return nil
}
