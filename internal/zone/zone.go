package zone

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"blockips/internal/system"

	"github.com/miekg/dns"
)

// Directive renders one deny line for domain.
func Directive(domain string) string {
	return fmt.Sprintf("local-zone: \"%s\" deny\n", dns.Fqdn(domain))
}

// Render produces the directive file for domains, deduplicated and sorted.
func Render(domains []string) []byte {
	unique := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		unique[strings.TrimSuffix(d, ".")] = struct{}{}
	}
	sorted := make([]string, 0, len(unique))
	for d := range unique {
		sorted = append(sorted, d)
	}
	sort.Strings(sorted)

	var buf bytes.Buffer
	for _, d := range sorted {
		buf.WriteString(Directive(d))
	}
	return buf.Bytes()
}

// Write atomically replaces path with the directive file for domains and
// returns how many distinct domains were written.
func Write(path string, domains []string) (int, error) {
	data := Render(domains)
	if err := system.WriteFileAtomic(path, data, 0644); err != nil {
		return 0, fmt.Errorf("failed to write zone file: %w", err)
	}
	return bytes.Count(data, []byte("\n")), nil
}

// Parse reads deny directives back into domain names without the trailing dot.
func Parse(r io.Reader) ([]string, error) {
	var domains []string
	scanner := bufio.NewScanner(r)
	no := 0
	for scanner.Scan() {
		no++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rest, ok := strings.CutPrefix(line, "local-zone:")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) != 2 || fields[1] != "deny" {
			continue
		}
		name := strings.Trim(fields[0], "\"")
		if _, ok := dns.IsDomainName(name); !ok {
			return nil, fmt.Errorf("line %d: invalid domain %q", no, name)
		}
		domains = append(domains, strings.TrimSuffix(name, "."))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read zone file: %w", err)
	}
	return domains, nil
}
