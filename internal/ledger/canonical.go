package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
)

// canonicalJSON serializes doc with lexicographically ordered keys, no
// insignificant whitespace and no HTML escaping. encoding/json already
// sorts map keys, so the document must be a map all the way down.
func canonicalJSON(doc map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// chainHash computes base64(SHA-256(prevHash-or-empty || canonical)).
func chainHash(prevHash *string, canonical []byte) string {
	h := sha256.New()
	if prevHash != nil {
		h.Write([]byte(*prevHash))
	}
	h.Write(canonical)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ComputeHash returns the chain hash of a decoded ledger line. The hash
// field, if present, is ignored; prevHash is taken from the document.
func ComputeHash(doc map[string]any) (string, error) {
	body := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "hash" {
			continue
		}
		body[k] = v
	}
	canonical, err := canonicalJSON(body)
	if err != nil {
		return "", err
	}
	var prev *string
	if p, ok := body["prevHash"].(string); ok {
		prev = &p
	}
	return chainHash(prev, canonical), nil
}

// decodeLine parses one ledger line into both a generic document (for hash
// recomputation) and a typed entry.
func decodeLine(line []byte) (map[string]any, LedgerEntry, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, LedgerEntry{}, err
	}
	var entry LedgerEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return nil, LedgerEntry{}, err
	}
	return doc, entry, nil
}
