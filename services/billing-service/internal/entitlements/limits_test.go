package entitlements

import "testing"

func TestLimitsForTier(t *testing.T) {
	free := LimitsForTier("free")
	if free.MaxEventTypes != 3 || free.MaxMonthlyMeetings != 50 {
		t.Fatalf("unexpected free limits: %+v", free)
	}

	pro := LimitsForTier("pro")
	if pro.MaxEventTypes <= free.MaxEventTypes || pro.MaxMonthlyMeetings <= free.MaxMonthlyMeetings {
		t.Fatalf("pro limits should exceed free: %+v", pro)
	}

	if got := LimitsForTier("nonsense"); got.Tier != "free" {
		t.Fatalf("unknown tier should fall back to free, got %q", got.Tier)
	}
}
