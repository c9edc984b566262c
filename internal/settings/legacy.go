package settings

// Setting ids whose contents reference torrent property names.
const (
	keySortTorrents       = "sortTorrents"
	keyTorrentDetails     = "torrentDetails"
	keyTorrentListColumns = "torrentListColumnWidths"
)

// changedKeys maps torrent property names used by older clients to the
// current names. No current name is also a legacy name.
var changedKeys = map[string]string{
	"downloadRate":   "downRate",
	"downloadTotal":  "downTotal",
	"uploadRate":     "upRate",
	"uploadTotal":    "upTotal",
	"connectedPeers": "peersConnected",
	"totalPeers":     "peersTotal",
	"connectedSeeds": "seedsConnected",
	"totalSeeds":     "seedsTotal",
	"added":          "dateAdded",
	"creationDate":   "dateCreated",
	"trackers":       "trackerURIs",
}

// removedKeys are property names that no longer exist.
var removedKeys = map[string]struct{}{
	"freeDiskSpace": {},
}

// MigrateLegacyKeys returns settings with legacy property names rewritten.
// The input is not modified. Applying it twice gives the same result as
// applying it once, and a value already stored under a current name is never
// replaced.
//
//   - sortTorrents.property is renamed when it holds a legacy name.
//   - torrentDetails items with a legacy id are renamed unless an item with
//     the current id is already in the list; items with a removed id are
//     dropped.
//   - torrentListColumnWidths gains the current key for each legacy key
//     whose current key is absent. Legacy keys are left in place.
func MigrateLegacyKeys(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}

	out := make(map[string]any, len(settings))
	for k, v := range settings {
		out[k] = v
	}

	if sort, ok := out[keySortTorrents].(map[string]any); ok {
		out[keySortTorrents] = migrateSort(sort)
	}
	if details, ok := out[keyTorrentDetails].([]any); ok {
		out[keyTorrentDetails] = migrateDetails(details)
	}
	if widths, ok := out[keyTorrentListColumns].(map[string]any); ok {
		out[keyTorrentListColumns] = migrateColumnWidths(widths)
	}

	return out
}

func migrateSort(sort map[string]any) map[string]any {
	property, ok := sort["property"].(string)
	if !ok {
		return sort
	}
	current, legacy := changedKeys[property]
	if !legacy {
		return sort
	}

	out := copyMap(sort)
	out["property"] = current
	return out
}

func migrateDetails(details []any) []any {
	present := make(map[string]struct{}, len(details))
	for _, item := range details {
		if id, ok := detailID(item); ok {
			present[id] = struct{}{}
		}
	}

	out := make([]any, 0, len(details))
	for _, item := range details {
		id, ok := detailID(item)
		if !ok {
			// Items without a string id are passed through untouched.
			out = append(out, item)
			continue
		}

		if current, legacy := changedKeys[id]; legacy {
			if _, exists := present[current]; !exists {
				renamed := copyMap(item.(map[string]any))
				renamed["id"] = current
				item, id = renamed, current
				present[current] = struct{}{}
			}
		}

		if _, removed := removedKeys[id]; removed {
			continue
		}
		out = append(out, item)
	}
	return out
}

func migrateColumnWidths(widths map[string]any) map[string]any {
	out := copyMap(widths)
	for column, width := range widths {
		current, legacy := changedKeys[column]
		if !legacy {
			continue
		}
		if _, exists := widths[current]; !exists {
			out[current] = width
		}
	}
	return out
}

func detailID(item any) (string, bool) {
	m, ok := item.(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := m["id"].(string)
	return id, ok
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
