package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"airdrop/offchain/internal/models"
)

// display_name is optional.
var requiredMemberColumns = []string{"identity_key", "points"}

// readMembers parses a leaderboard export. The header row is required;
// column order follows the header and extra columns are ignored.
func readMembers(r io.Reader) ([]models.Membership, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("members file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range requiredMemberColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("members file is missing column %q", col)
		}
	}

	var out []models.Membership
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		field := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		key := field("identity_key")
		if key == "" {
			return nil, fmt.Errorf("line %d: identity_key is empty", line)
		}
		points, err := strconv.ParseInt(field("points"), 10, 64)
		if err != nil || points < 0 {
			return nil, fmt.Errorf("line %d: invalid points %q", line, field("points"))
		}
		out = append(out, models.Membership{
			IdentityKey: key,
			DisplayName: field("display_name"),
			Points:      points,
		})
	}
	return out, nil
}
