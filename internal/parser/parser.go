package parser

import (
	"bufio"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// FallbackSummary is the summary for output with no non-blank lines.
const FallbackSummary = "VM provisioned successfully"

// Fields are the structured values recognised in script output.
type Fields struct {
	ExternalName string
	IP           string
	SSH          string
	VNC          string
	Extra        map[string]string
}

// Empty reports whether no connection-relevant field was recognised.
func (f Fields) Empty() bool {
	return f.ExternalName == "" && f.IP == "" && f.SSH == "" && f.VNC == "" && len(f.Extra) == 0
}

// Result is the outcome of Parse.
type Result struct {
	Fields  Fields
	Summary string
	// Structured is true when the whole output was a JSON object.
	Structured bool
}

var (
	ipv4Pattern     = regexp.MustCompile(`\b(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})\b`)
	keyValuePattern = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z0-9_]*)\s*=\s*(.*?)\s*$`)
	labeledPattern  = regexp.MustCompile(`(?i)^\s*(ssh|vnc|vm|vm[ _]name|ip|ip[ _]address)\s*:\s*(.+?)\s*$`)

	activePattern  = regexp.MustCompile(`(?i)\bactive\b`)
	negatedPattern = regexp.MustCompile(`(?i)\bnot\s+active\b|\binactive\b`)
)

type field int

const (
	fieldNone field = iota
	fieldName
	fieldIP
	fieldSSH
	fieldVNC
)

// keyFields maps normalised keys (lowercase, separators removed) to fields.
var keyFields = map[string]field{
	"vmname":       fieldName,
	"name":         fieldName,
	"externalname": fieldName,
	"vm":           fieldName,
	"ip":           fieldIP,
	"ipaddress":    fieldIP,
	"address":      fieldIP,
	"ssh":          fieldSSH,
	"sshport":      fieldSSH,
	"sshcommand":   fieldSSH,
	"vnc":          fieldVNC,
	"vncport":      fieldVNC,
}

var summaryKeys = map[string]struct{}{"summary": {}, "message": {}}

func normaliseKey(k string) string {
	k = strings.ToLower(k)
	k = strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
	return k
}

// Parse extracts structured fields from accumulated script output.
func Parse(text string) Result {
	if res, ok := parseJSON(text); ok {
		return res
	}
	return parseLines(text)
}

func parseJSON(text string) (Result, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return Result{}, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return Result{}, false
	}

	res := Result{Structured: true}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, ok := scalarString(obj[k])
		if !ok {
			continue
		}
		norm := normaliseKey(k)
		if _, isSummary := summaryKeys[norm]; isSummary {
			res.Summary = v
			continue
		}
		if !res.Fields.set(keyFields[norm], v) {
			res.Fields.addExtra(k, v)
		}
	}
	if res.Summary == "" {
		res.Summary = lastLine(text)
	}
	return res, true
}

func parseLines(text string) Result {
	var res Result
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if m := keyValuePattern.FindStringSubmatch(line); m != nil {
			if !res.Fields.set(keyFields[normaliseKey(m[1])], m[2]) {
				res.Fields.addExtra(m[1], m[2])
			}
			continue
		}
		if m := labeledPattern.FindStringSubmatch(line); m != nil {
			res.Fields.set(keyFields[normaliseKey(m[1])], m[2])
			continue
		}
		if res.Fields.IP == "" {
			if ip := findIPv4(line); ip != "" {
				res.Fields.IP = ip
			}
		}
	}
	res.Summary = lastLine(text)
	return res
}

// set stores v in the given field if it is still empty. It reports whether
// the key was a known field.
func (f *Fields) set(which field, v string) bool {
	var dst *string
	switch which {
	case fieldName:
		dst = &f.ExternalName
	case fieldIP:
		dst = &f.IP
	case fieldSSH:
		dst = &f.SSH
	case fieldVNC:
		dst = &f.VNC
	default:
		return false
	}
	if *dst == "" && v != "" {
		*dst = v
	}
	return true
}

func (f *Fields) addExtra(k, v string) {
	if f.Extra == nil {
		f.Extra = make(map[string]string)
	}
	f.Extra[k] = v
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case nil:
		return "", false
	default:
		return "", false
	}
}

func findIPv4(s string) string {
	for _, m := range ipv4Pattern.FindAllStringSubmatch(s, -1) {
		ok := true
		for _, octet := range m[1:] {
			n, err := strconv.Atoi(octet)
			if err != nil || n > 255 {
				ok = false
				break
			}
		}
		if ok {
			return m[0]
		}
	}
	return ""
}

func lastLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return FallbackSummary
}

// Liveness interprets status output as a boolean liveness signal.
func Liveness(text string) bool {
	return activePattern.MatchString(text) && !negatedPattern.MatchString(text)
}

// String renders fields for logs.
func (f Fields) String() string {
	return fmt.Sprintf("name=%q ip=%q ssh=%q vnc=%q extra=%d", f.ExternalName, f.IP, f.SSH, f.VNC, len(f.Extra))
}
