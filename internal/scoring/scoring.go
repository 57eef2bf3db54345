// Package scoring implements the Usage Scorer: pure functions that turn a
// user's raw per-service activity counters into a bounded [0,1] score per
// service. The package has zero I/O: pure, table-driven, exhaustively
// testable.
package scoring

import (
	"sort"

	"github.com/savegress/optimizer/backend/internal/models"
)

// RequiredThreshold is the score at or above which a service is considered
// required for a user.
const RequiredThreshold = 0.1

// InactiveThreshold is the score below which a service counts as unused
// when deciding whether a user is inactive.
const InactiveThreshold = 0.05

// Scores maps a canonical service name to its normalized usage score.
type Scores map[string]float64

// Score computes per-service usage scores for a user from their most
// recent UsageMetrics row. A nil usage (no row synced yet) scores every
// service at zero.
func Score(usage *models.UsageMetrics) Scores {
	if usage == nil {
		return Scores{
			models.ServiceExchange:      0,
			models.ServiceOneDrive:      0,
			models.ServiceSharePoint:    0,
			models.ServiceTeams:         0,
			models.ServiceOfficeDesktop: 0,
		}
	}

	exchange := clamp(float64(usage.EmailsSent28d+usage.EmailsReceived28d) / 100)
	onedrive := clamp(float64(usage.OneDriveFilesModified28d) / 50)
	sharepoint := clamp(float64(usage.SharePointEdits28d) / 50)
	teams := clamp(float64(usage.TeamsMessages28d+10*usage.TeamsMeetings28d) / 100)

	var officeDesktop float64
	if usage.HasDesktopActivation28d {
		officeDesktop = 1.0
	} else {
		officeDesktop = clamp(float64(usage.OfficeWebEdits28d) / 30)
	}

	return Scores{
		models.ServiceExchange:      exchange,
		models.ServiceOneDrive:      onedrive,
		models.ServiceSharePoint:    sharepoint,
		models.ServiceTeams:         teams,
		models.ServiceOfficeDesktop: officeDesktop,
	}
}

func clamp(raw float64) float64 {
	if raw < 0 {
		return 0
	}
	if raw > 1.0 {
		return 1.0
	}
	return raw
}

// IsInactive reports whether a user should be treated as inactive: their
// account is disabled, or every service scores below InactiveThreshold.
// The caller is responsible for distinguishing a missing usage row from a
// present low-activity one - all-zero scores from a user who was simply
// never in a report must not be read as dormancy.
func IsInactive(accountEnabled bool, scores Scores) bool {
	if !accountEnabled {
		return true
	}
	for _, v := range scores {
		if v >= InactiveThreshold {
			return false
		}
	}
	return true
}

// RequiredServices returns the services a user's usage requires, sorted
// for deterministic downstream comparisons.
func RequiredServices(scores Scores) []string {
	required := make([]string, 0, len(scores))
	for service, score := range scores {
		if score >= RequiredThreshold {
			required = append(required, service)
		}
	}
	sort.Strings(required)
	return required
}
