package watch

import (
	"fmt"
	"strconv"
	"strings"
)

// WatcherID and TargetID are platform-assigned user ids.
type (
	WatcherID = int64
	TargetID  = int64
)

// ParseID parses a raw numeric user id as typed by a user.
func ParseID(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedID, raw)
	}
	return id, nil
}
