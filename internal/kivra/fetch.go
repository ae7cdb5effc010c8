package kivra

// Stats describes one catalog fetch run for a single document kind. Total is
// the server-reported catalog size; Fetched is how many items this run
// actually walked after truncation; Stored counts items with at least one
// newly persisted content part.
type Stats struct {
	Total   int
	Fetched int
	Stored  int
}

// truncate caps a listing at maxCount. maxCount <= 0 means unlimited.
func truncate[T any](list []T, maxCount int) []T {
	if maxCount > 0 && len(list) > maxCount {
		return list[:maxCount]
	}
	return list
}
