package ledger

import (
	"bufio"
	"bytes"
	"io"
)

const maxLineBytes = 16 << 20

// VerifyReport summarizes a full scan of a ledger file.
type VerifyReport struct {
	Entries    int     `json:"entries"`
	Tip        *string `json:"tip"`
	Keys       int     `json:"keys"`
	Duplicates int     `json:"duplicates"`
}

// Verify scans a whole ledger, checking that every line parses, every
// prevHash links to the previous line's hash and every stored hash matches
// its recomputation. The first failure is returned as a *MalformedLedgerError.
func Verify(r io.Reader) (VerifyReport, error) {
	var report VerifyReport
	seen := make(map[DedupeKey]struct{})
	tip, err := scanLedger(r, func(_ int, _ LedgerEntry, key DedupeKey) error {
		report.Entries++
		if _, ok := seen[key]; ok {
			report.Duplicates++
		}
		seen[key] = struct{}{}
		return nil
	})
	report.Tip = tip
	report.Keys = len(seen)
	return report, err
}

// scanLedger walks r line by line, validating the chain and calling fn for
// every entry in order. Blank lines are skipped. It returns the hash of the
// last entry, or nil when the ledger holds none.
func scanLedger(r io.Reader, fn func(line int, entry LedgerEntry, key DedupeKey) error) (*string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var tip *string
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		doc, entry, err := decodeLine(raw)
		if err != nil {
			return tip, &MalformedLedgerError{Line: lineNo, Reason: "unparsable line", Err: err}
		}
		if entry.Hash == "" {
			return tip, &MalformedLedgerError{Line: lineNo, Reason: "missing hash"}
		}
		if !sameHash(entry.PrevHash, tip) {
			return tip, &MalformedLedgerError{Line: lineNo, Reason: "prevHash does not link to previous entry"}
		}
		expected, err := ComputeHash(doc)
		if err != nil {
			return tip, &MalformedLedgerError{Line: lineNo, Reason: "cannot canonicalize entry", Err: err}
		}
		if expected != entry.Hash {
			return tip, &MalformedLedgerError{Line: lineNo, Reason: "hash mismatch"}
		}
		key, err := KeyForEntry(entry)
		if err != nil {
			return tip, &MalformedLedgerError{Line: lineNo, Reason: "invalid moderatedAt", Err: err}
		}
		if err := fn(lineNo, entry, key); err != nil {
			return tip, err
		}

		h := entry.Hash
		tip = &h
	}
	if err := scanner.Err(); err != nil {
		return tip, &MalformedLedgerError{Line: lineNo + 1, Reason: "read failed", Err: err}
	}
	return tip, nil
}

func sameHash(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
