package ledger

import (
	"strings"
	"time"
)

// DedupeKey identifies "the same fraud signal" within one UTC calendar day.
type DedupeKey string

const (
	dedupeSeparator = "|"
	dedupeNone      = "NONE"
	dayLayout       = "2006-01-02"
)

// BuildKey maps a report's identity and reference time to its dedupe key.
// Empty fingerprints are written as NONE.
func BuildKey(reporter, merchantHash, descriptionHash string, ref time.Time) DedupeKey {
	return DedupeKey(strings.Join([]string{
		reporter,
		orNone(merchantHash),
		orNone(descriptionHash),
		ref.UTC().Format(dayLayout),
	}, dedupeSeparator))
}

// KeyForReport derives the dedupe key of a live report. The reference time
// is reportedAt when present, otherwise receivedAt.
func KeyForReport(r FraudReport, receivedAt time.Time) DedupeKey {
	ref := receivedAt
	if r.ReportedAt != nil {
		ref = time.UnixMilli(*r.ReportedAt)
	}
	return BuildKey(r.Reporter, deref(r.MerchantHash), r.DescriptionTokensHash, ref)
}

// KeyForEntry rebuilds the dedupe key from a persisted ledger line. Lines
// written without reportedAt fall back to moderatedAt.
func KeyForEntry(e LedgerEntry) (DedupeKey, error) {
	var ref time.Time
	if e.ReportedAt != nil {
		ref = time.UnixMilli(*e.ReportedAt)
	} else {
		t, err := time.Parse(time.RFC3339Nano, e.ModeratedAt)
		if err != nil {
			return "", err
		}
		ref = t
	}
	return BuildKey(e.Reporter, deref(e.MerchantHash), e.DescriptionTokensHash, ref), nil
}

func orNone(s string) string {
	if s == "" {
		return dedupeNone
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
