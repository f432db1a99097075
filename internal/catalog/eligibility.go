package catalog

import (
	"sort"
	"time"
)

// errorThreshold is injected by callers that construct a Store; it is
// read through eligibleParams so both backends share one predicate.
type eligibleParams struct {
	now            int64
	errorThreshold int
	selfServer     string
	locked         map[int64]bool
}

// isEligible implements the §3 eligibility predicate verbatim.
func isEligible(a *Account, p eligibleParams) bool {
	if !a.Enabled {
		return false
	}
	if a.ErrorCounter >= p.errorThreshold {
		return false
	}
	if a.TimeAddedSec >= p.now-60 {
		return false
	}
	if a.LastUsedSec >= p.now-100 {
		return false
	}
	if a.LastSelectedSec >= p.now-50 {
		return false
	}
	if a.ForcedTimeoutAtSec >= p.now-500 {
		return false
	}
	if a.RequestServer != "" && a.RequestServer != "default" && a.RequestServer != p.selfServer {
		return false
	}
	if p.locked[a.ID] {
		return false
	}
	return true
}

// selectBest orders eligible accounts by (lastUsedSec ASC, lastSelectedSec
// ASC, sameTextureCounter ASC) and returns the best candidate, or nil.
func selectBest(accounts []*Account, p eligibleParams) *Account {
	var eligible []*Account
	for _, a := range accounts {
		if isEligible(a, p) {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].LastUsedSec != eligible[j].LastUsedSec {
			return eligible[i].LastUsedSec < eligible[j].LastUsedSec
		}
		if eligible[i].LastSelectedSec != eligible[j].LastSelectedSec {
			return eligible[i].LastSelectedSec < eligible[j].LastSelectedSec
		}
		return eligible[i].SameTextureCounter < eligible[j].SameTextureCounter
	})
	return eligible[0]
}

func nowSec() int64 { return time.Now().Unix() }
