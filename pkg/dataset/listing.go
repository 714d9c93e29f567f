package dataset

import (
	"regexp"
	"strings"
)

// longRecord matches the long format written by `rsync --list-only`:
// `perms size date time name`. The name is everything after the single
// space that follows the time, so runs of whitespace inside it survive.
var longRecord = regexp.MustCompile(
	`^\S+\s+[\d,.]+[KMGTP]?\s+\d{4}/\d{2}/\d{2}\s+\d{2}:\d{2}:\d{2} (.+)$`)

// entry is a single line of a remote listing.
type entry struct {
	name  string
	isDir bool
}

// parseListing parses the output of transfer.List. Each record has the
// form `kind ... name`, where kind starts with `d` for directories and the
// name is the last field. Lines with fewer than two fields are skipped.
// Records in rsync's long format keep the name verbatim, including any
// whitespace in it.
func parseListing(listing string) []entry {
	var entries []entry
	for _, line := range strings.Split(listing, "\n") {
		line = strings.TrimSuffix(line, "\r")
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		name := fields[len(fields)-1]
		if match := longRecord.FindStringSubmatch(line); match != nil {
			name = match[1]
		}

		entries = append(entries, entry{
			name:  name,
			isDir: strings.HasPrefix(fields[0], "d"),
		})
	}
	return entries
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// classify splits the visible entries into files and directories. Files
// are returned in dataset order.
func classify(entries []entry) (files, dirs []string) {
	for _, e := range entries {
		if isHidden(e.name) {
			continue
		}

		if e.isDir {
			dirs = append(dirs, e.name)
		} else {
			files = append(files, e.name)
		}
	}
	sortFiles(files)
	return files, dirs
}
