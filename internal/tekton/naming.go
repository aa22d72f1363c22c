package tekton

import (
	"fmt"
	"strings"
	"time"

	"github.com/eeekcct/github-poller/api/v1alpha1"
)

// maxNameLength is the Kubernetes limit for object names that are also used as label values.
const maxNameLength = 63

const runTimestampFormat = "20060102-150405"

// RunName returns "<pipeline>-<entry>-<yyyymmdd-hhmmss>" in lower case, cut to 63 characters.
func RunName(pipeline, entryName string, now time.Time) string {
	name := strings.ToLower(fmt.Sprintf("%s-%s-%s", pipeline, entryName, now.Format(runTimestampFormat)))
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	// a name may not end with a separator
	return strings.TrimRight(name, "-.")
}

// ExpandPlaceholders replaces ${repo.url}, ${repo.branch} and ${repo.name} in
// value. Unknown placeholders are left as they are.
func ExpandPlaceholders(value string, entry v1alpha1.RepositoryEntry) string {
	branch := entry.Branch
	if branch == "" {
		branch = v1alpha1.DefaultBranch
	}
	return strings.NewReplacer(
		"${repo.url}", entry.URL,
		"${repo.branch}", branch,
		"${repo.name}", entry.Name,
	).Replace(value)
}
