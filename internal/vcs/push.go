package vcs

import (
	"strings"

	"github.com/Iron-Ham/epicrun/internal/errors"
)

var pushPatterns = []struct {
	category errors.PushCategory
	markers  []string
}{
	{errors.PushAuthentication, []string{
		"authentication failed",
		"could not read username",
		"permission denied",
		"returned error: 403",
		"invalid credentials",
	}},
	{errors.PushNetwork, []string{
		"could not resolve host",
		"connection refused",
		"connection timed out",
		"timed out",
		"unable to access",
		"network is unreachable",
	}},
	{errors.PushRejected, []string{
		"[rejected]",
		"rejected",
		"non-fast-forward",
		"fetch first",
		"protected branch",
	}},
}

// CategorizePushFailure classifies git push output. Authentication markers
// win over network markers because "unable to access" also precedes many
// credential errors.
func CategorizePushFailure(output string) errors.PushCategory {
	lower := strings.ToLower(output)
	for _, p := range pushPatterns {
		for _, m := range p.markers {
			if strings.Contains(lower, m) {
				return p.category
			}
		}
	}
	return errors.PushUnknown
}
