package plan

// PeakHours maps a time-zone name to its assumed high-activity hours of
// day. This is configuration data, not logic: the defaults below can be
// replaced or extended from the config file, and unknown zones fall back
// to the UTC row.
type PeakHours map[string][]int

// DefaultPeakHours returns the built-in activity table.
func DefaultPeakHours() PeakHours {
	return PeakHours{
		"UTC":              {9, 10, 11, 14, 15, 16, 19, 20},
		"America/New_York": {9, 10, 11, 13, 14, 15, 18, 19, 20},
		"Europe/London":    {8, 9, 10, 12, 13, 14, 17, 18, 19},
		"Asia/Tokyo":       {7, 8, 9, 11, 12, 13, 16, 17, 18},
		"Australia/Sydney": {7, 8, 9, 11, 12, 13, 16, 17, 18},
	}
}

// Lookup returns the peak-hour set for zone, falling back to UTC.
func (p PeakHours) Lookup(zone string) map[int]bool {
	hours, ok := p[zone]
	if !ok {
		hours = p["UTC"]
	}
	set := make(map[int]bool, len(hours))
	for _, h := range hours {
		set[h] = true
	}
	return set
}

// Merge overlays zone rows from other onto a copy of p.
func (p PeakHours) Merge(other PeakHours) PeakHours {
	out := make(PeakHours, len(p)+len(other))
	for z, h := range p {
		out[z] = h
	}
	for z, h := range other {
		out[z] = h
	}
	return out
}
