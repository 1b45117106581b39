package entitlements

// Limits represents the entitlements derived from a subscription tier.
// Keep this small and stable: other services may rely on these limits to enforce behavior.
type Limits struct {
	Tier               string `json:"tier"`
	MaxEventTypes      int32  `json:"max_event_types"`
	MaxMonthlyMeetings int32  `json:"max_monthly_meetings"`
}

func LimitsForTier(tier string) Limits {
	switch tier {
	case "pro":
		return Limits{
			Tier:               "pro",
			MaxEventTypes:      100,
			MaxMonthlyMeetings: 5000,
		}
	default:
		return Limits{
			Tier:               "free",
			MaxEventTypes:      3,
			MaxMonthlyMeetings: 50,
		}
	}
}
