package ledger

import "time"

// SchemaVersion is written into every ledger line.
const SchemaVersion = 1

// StatusApproved is the only status ever persisted to the ledger.
const StatusApproved = "APPROVED"

// FraudReport is a fraud signal submitted by a risk operator.
// It is immutable once accepted into the pending queue.
type FraudReport struct {
	Reporter              string  `json:"reporter"`
	AccountHash           string  `json:"accountHash"`
	MerchantHash          *string `json:"merchantHash,omitempty"`
	DescriptionTokensHash string  `json:"descriptionTokensHash"`
	Description           string  `json:"description"`
	AmountCents           int64   `json:"amountCents"`
	CountryCode           *string `json:"countryCode,omitempty"`
	MCC                   *string `json:"mcc,omitempty"`
	ReportedAt            *int64  `json:"reportedAt,omitempty"` // epoch millis
}

// PendingEntry is a report awaiting a moderation decision.
type PendingEntry struct {
	ID         string      `json:"id"`
	Report     FraudReport `json:"report"`
	ReceivedAt time.Time   `json:"receivedAt"`
	DedupeKey  DedupeKey   `json:"dedupeKey"`
}

// LedgerEntry is a single approved line of the ledger file.
type LedgerEntry struct {
	ID                    string  `json:"id"`
	Reporter              string  `json:"reporter"`
	AccountHash           string  `json:"accountHash"`
	MerchantHash          *string `json:"merchantHash"`
	DescriptionTokensHash string  `json:"descriptionTokensHash"`
	Description           string  `json:"description"`
	AmountCents           int64   `json:"amountCents"`
	CountryCode           *string `json:"countryCode"`
	MCC                   *string `json:"mcc,omitempty"`
	ReportedAt            *int64  `json:"reportedAt"`
	Status                string  `json:"status"`
	ModeratedAt           string  `json:"moderatedAt"`
	Moderator             string  `json:"moderator"`
	Version               int     `json:"version"`
	PrevHash              *string `json:"prevHash"`
	Hash                  string  `json:"hash"`
}

// newEntry builds the unhashed ledger entry for an approved pending report.
func newEntry(p PendingEntry, moderator string, moderatedAt time.Time, prevHash *string) LedgerEntry {
	r := p.Report
	return LedgerEntry{
		ID:                    p.ID,
		Reporter:              r.Reporter,
		AccountHash:           r.AccountHash,
		MerchantHash:          r.MerchantHash,
		DescriptionTokensHash: r.DescriptionTokensHash,
		Description:           r.Description,
		AmountCents:           r.AmountCents,
		CountryCode:           r.CountryCode,
		MCC:                   r.MCC,
		ReportedAt:            r.ReportedAt,
		Status:                StatusApproved,
		ModeratedAt:           moderatedAt.UTC().Format(time.RFC3339Nano),
		Moderator:             moderator,
		Version:               SchemaVersion,
		PrevHash:              prevHash,
	}
}

// fields returns the entry as a key/value document. The hash field is
// included only when includeHash is set.
func (e LedgerEntry) fields(includeHash bool) map[string]any {
	doc := map[string]any{
		"id":                    e.ID,
		"reporter":              e.Reporter,
		"accountHash":           e.AccountHash,
		"merchantHash":          nullable(e.MerchantHash),
		"descriptionTokensHash": e.DescriptionTokensHash,
		"description":           e.Description,
		"amountCents":           e.AmountCents,
		"countryCode":           nullable(e.CountryCode),
		"status":                e.Status,
		"moderatedAt":           e.ModeratedAt,
		"moderator":             e.Moderator,
		"version":               e.Version,
		"prevHash":              nullable(e.PrevHash),
	}
	if e.ReportedAt != nil {
		doc["reportedAt"] = *e.ReportedAt
	} else {
		doc["reportedAt"] = nil
	}
	if e.MCC != nil {
		doc["mcc"] = *e.MCC
	}
	if includeHash {
		doc["hash"] = e.Hash
	}
	return doc
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
