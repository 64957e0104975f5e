package main

import (
	"fmt"
	"strings"
)

// WriteGroup is one "addr:val;val;..." group from --fuses or --write:
// a run of bytes to be written starting at Addr.
type WriteGroup struct {
	Addr   uint32
	Values []byte
}

// ReadGroup is one "addr:n" group from --read: a byte count to read
// starting at Addr.
type ReadGroup struct {
	Addr  uint32
	Count int
}

// parseWriteGroups parses "addr:val;val|addr:val|..." the way
// doSetCmd/doGetCmd parse their own hex arguments: fmt.Sscanf with "%x"
// on each token, one token at a time, rather than one large format
// string for the whole line.
func parseWriteGroups(s string) ([]WriteGroup, error) {
	var groups []WriteGroup
	for _, part := range splitNonEmpty(s, "|") {
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("usage: addr:val;val|addr:val;val, got %q", part)
		}
		var addr uint32
		if n, _ := fmt.Sscanf(fields[0], "%x", &addr); n != 1 {
			return nil, fmt.Errorf("bad hex address %q", fields[0])
		}
		var values []byte
		for _, tok := range splitNonEmpty(fields[1], ";") {
			var v uint32
			if n, _ := fmt.Sscanf(tok, "%x", &v); n != 1 {
				return nil, fmt.Errorf("bad hex value %q", tok)
			}
			values = append(values, byte(v))
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("group %q has no values", part)
		}
		groups = append(groups, WriteGroup{Addr: addr, Values: values})
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("empty argument")
	}
	return groups, nil
}

// parseReadGroups parses "addr:n|addr:n|...".
func parseReadGroups(s string) ([]ReadGroup, error) {
	var groups []ReadGroup
	for _, part := range splitNonEmpty(s, "|") {
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("usage: addr:n|addr:n, got %q", part)
		}
		var addr uint32
		var count int
		if n, _ := fmt.Sscanf(fields[0], "%x", &addr); n != 1 {
			return nil, fmt.Errorf("bad hex address %q", fields[0])
		}
		if n, _ := fmt.Sscanf(fields[1], "%d", &count); n != 1 || count <= 0 {
			return nil, fmt.Errorf("bad byte count %q", fields[1])
		}
		groups = append(groups, ReadGroup{Addr: addr, Count: count})
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("empty argument")
	}
	return groups, nil
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
