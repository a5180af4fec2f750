package redis

import "fmt"

const ns = "leeszaal:v1"

func KeyRecordHoldings(recordID int64) string {
	return fmt.Sprintf("%s:record:%d:holdings", ns, recordID)
}

func KeyRecordAvailability(recordID int64) string {
	return fmt.Sprintf("%s:record:%d:availability", ns, recordID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelHoldingsChanged() string {
	return ns + ":holdings:changed"
}
