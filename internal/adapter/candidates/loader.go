// Package candidates reads the ranked host list a run starts from.
package candidates

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// MaxAddressLen is the width of the stores' site key column.
const MaxAddressLen = 255

// Load reads the CSV file at path. See Parse.
func Load(path, scheme string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candidates: %w", err)
	}
	defer f.Close()

	return Parse(f, scheme)
}

// Parse reads candidate addresses from CSV. The first row is a header and is
// discarded. The first field of each remaining row is a host; it is prefixed
// with scheme unless it already carries one, and the scheme and host are
// lowercased so the address matches its stored key. Blank rows, empty first
// fields and addresses longer than MaxAddressLen are skipped.
func Parse(r io.Reader, scheme string) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	var out []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read candidates: %w", err)
		}
		if len(rec) == 0 {
			continue
		}
		host := strings.TrimSpace(rec[0])
		if host == "" {
			continue
		}
		addr := normalize(host, scheme)
		if len(addr) > MaxAddressLen {
			slog.Warn("candidate skipped: address too long", "address", addr[:64]+"...", "len", len(addr), "max", MaxAddressLen)
			continue
		}
		out = append(out, addr)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func normalize(host, scheme string) string {
	lower := strings.ToLower(host)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		host = scheme + host
	}

	// Only scheme and authority are case-insensitive; the path is kept as is.
	i := strings.Index(host, "://") + len("://")
	end := len(host)
	if j := strings.IndexAny(host[i:], "/?#"); j >= 0 {
		end = i + j
	}
	return strings.ToLower(host[:end]) + host[end:]
}
