package netfilterHelper

import (
	"bufio"
	"bytes"
	"fmt"
	"net/netip"
	"strings"
)

// RestoreLine is one parsed "add <set> <entry> [-exist]" instruction.
type RestoreLine struct {
	No    int
	Set   string
	Entry netip.Prefix
	Exist bool
}

// RestoreError carries the diagnostic of a rejected restore batch.
type RestoreError struct {
	Line   int
	Stderr string
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("ipset restore failed: %s", strings.TrimSpace(e.Stderr))
}

// AddLine renders a single restore instruction.
func AddLine(setName, entry string) string {
	return fmt.Sprintf("add %s %s -exist\n", setName, entry)
}

func ParseRestoreScript(script []byte) ([]RestoreLine, error) {
	var lines []RestoreLine
	scanner := bufio.NewScanner(bytes.NewReader(script))
	no := 0
	for scanner.Scan() {
		no++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 3 || len(fields) > 4 || fields[0] != "add" {
			return nil, &RestoreError{Line: no, Stderr: fmt.Sprintf("Error in line %d: unsupported instruction %q", no, text)}
		}
		exist := false
		if len(fields) == 4 {
			if fields[3] != "-exist" {
				return nil, &RestoreError{Line: no, Stderr: fmt.Sprintf("Error in line %d: unknown option %q", no, fields[3])}
			}
			exist = true
		}
		entry, err := ParseEntry(fields[2])
		if err != nil {
			return nil, &RestoreError{Line: no, Stderr: fmt.Sprintf("Error in line %d: %v", no, err)}
		}
		lines = append(lines, RestoreLine{No: no, Set: fields[1], Entry: entry, Exist: exist})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read restore script: %w", err)
	}
	return lines, nil
}
