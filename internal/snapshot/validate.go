package snapshot

import (
	"errors"
	"fmt"
	"sort"
)

// Validate checks the required shape plus the document invariants:
// channel parents resolve to categories in the same snapshot and message
// ids are unique within a channel. Every violation is reported; soft
// issues (unknown channel types, unparseable timestamps) come back as
// warnings.
func Validate(s *Snapshot) (warnings []string, err error) {
	errs := []error{checkShape(s)}

	for _, id := range sortedKeys(s.Channels) {
		ch := s.Channels[id]
		path := "channels." + id

		if ch.ID != "" && ch.ID != id {
			warnings = append(warnings, fmt.Sprintf("%s: record id %s differs from key", path, ch.ID))
		}
		if ch.Name == "" {
			errs = append(errs, &ValidationError{Path: path + ".name", Message: "missing"})
		}
		if !ch.Type.Creatable() {
			warnings = append(warnings, fmt.Sprintf("%s: unsupported channel type %q", path, ch.Type))
		}
		if ch.CategoryID != "" {
			parent, ok := s.Channels[ch.CategoryID]
			switch {
			case !ok:
				errs = append(errs, &ValidationError{Path: path + ".category_id", Message: fmt.Sprintf("references unknown channel %s", ch.CategoryID)})
			case parent.Type != ChannelCategory:
				errs = append(errs, &ValidationError{Path: path + ".category_id", Message: fmt.Sprintf("references %s channel %s, not a category", parent.Type, ch.CategoryID)})
			}
		}

		seen := make(map[string]struct{}, len(ch.Messages))
		badTimes := 0
		for i, msg := range ch.Messages {
			if msg.ID == "" {
				errs = append(errs, &ValidationError{Path: fmt.Sprintf("%s.messages[%d].id", path, i), Message: "missing"})
				continue
			}
			if _, dup := seen[msg.ID]; dup {
				errs = append(errs, &ValidationError{Path: fmt.Sprintf("%s.messages[%d]", path, i), Message: fmt.Sprintf("duplicate message id %s", msg.ID)})
			}
			seen[msg.ID] = struct{}{}
			if _, err := ParseTimestamp(msg.Timestamp); err != nil {
				badTimes++
			}
		}
		if badTimes > 0 {
			warnings = append(warnings, fmt.Sprintf("%s: %d message(s) with unparseable timestamp", path, badTimes))
		}
	}

	for _, id := range sortedKeys(s.Roles) {
		if s.Roles[id].Name == "" {
			errs = append(errs, &ValidationError{Path: "roles." + id + ".name", Message: "missing"})
		}
	}

	return warnings, errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
