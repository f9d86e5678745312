package opvault

import (
	"bytes"
	"encoding/json"
	"fmt"

	"southwinds.dev/opvault/persist"
)

// Text wrapper prefixes used by the container format. Profile descriptors
// embed their JSON in an assignment, band shards in a call.
const (
	profilePrefix = "var profile="
	profileSuffix = ";"
	bandPrefix    = "ld("
	bandSuffix    = ");"
)

// unwrapText strips exactly one layer of the container's text envelope and
// returns the embedded JSON. Content must either begin with the assignment
// prefix and end with its terminator, or begin with the call-like prefix
// and end with its matching terminator; anything else is ErrMalformedWrapper.
func unwrapText(data []byte) ([]byte, error) {
	s := bytes.TrimSpace(data)

	switch {
	case bytes.HasPrefix(s, []byte(profilePrefix)) && bytes.HasSuffix(s, []byte(profileSuffix)):
		return s[len(profilePrefix) : len(s)-len(profileSuffix)], nil
	case bytes.HasPrefix(s, []byte(bandPrefix)) && bytes.HasSuffix(s, []byte(bandSuffix)):
		return s[len(bandPrefix) : len(s)-len(bandSuffix)], nil
	default:
		return nil, ErrMalformedWrapper
	}
}

// readProfile loads and parses the vault's profile descriptor. Every
// cryptographic parameter must be present; a profile missing any of them
// is rejected outright rather than defaulted.
func readProfile(store persist.Store) (*Profile, error) {
	data, err := store.LoadProfile()
	if err != nil {
		return nil, err
	}

	inner, err := unwrapText(data)
	if err != nil {
		return nil, err
	}

	var profile Profile
	if err = json.Unmarshal(inner, &profile); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedProfile, "invalid profile JSON")
	}

	if profile.Salt == "" || profile.Iterations <= 0 ||
		profile.MasterKey == "" || profile.OverviewKey == "" {
		return nil, fmt.Errorf("%w: missing required field", ErrMalformedProfile)
	}

	return &profile, nil
}

// readItems loads every shard file and merges their item maps. On disk the
// UUID is the map key, not an item field, so it is reattached here. Later
// shards win on UUID collisions, matching lexical load order.
func readItems(store persist.Store) ([]RawItem, error) {
	bands, err := store.ListBandFiles()
	if err != nil {
		return nil, err
	}

	merged := make(map[string]RawItem)
	for _, band := range bands {
		data, err := store.LoadBandFile(band)
		if err != nil {
			return nil, err
		}

		inner, err := unwrapText(data)
		if err != nil {
			return nil, err
		}

		var shard map[string]RawItem
		if err = json.Unmarshal(inner, &shard); err != nil {
			return nil, fmt.Errorf("%w: invalid band JSON", ErrMalformedWrapper)
		}

		for uuid, item := range shard {
			item.UUID = uuid
			merged[uuid] = item
		}
	}

	items := make([]RawItem, 0, len(merged))
	for _, item := range merged {
		items = append(items, item)
	}
	return items, nil
}
