// Package dsl tokenizes and parses the line-oriented patch script grammar:
// one command per header line, `OP | file | arg | key=value`, with
// optional heredoc or implicit multiline payloads for a subset of ops.
package dsl

import (
	"regexp"
	"strings"
)

// CommandKind is the closed tagged variant a parsed Command carries. The
// zero value, KindUnknown, marks an op token that didn't resolve to any
// canonical kind or alias.
type CommandKind int

const (
	KindUnknown CommandKind = iota

	KindCreateFile
	KindWriteFile
	KindUpsertFile
	KindDeleteFile
	KindMoveFile
	KindCopyFile

	KindAssertFileExists
	KindAssertFileNotExists
	KindAssertRegex
	KindAssertNotRegex
	KindAssertRegexCount

	KindInsertBeforeRegex
	KindInsertAfterRegex
	KindReplaceRegex
	KindReplaceRegexFirst
	KindDeleteRegex
	KindReplaceBlock

	KindScanFile

	// KindPatchRegex is the meta-op; the engine rewrites it into one of
	// the mutation kinds above before dispatch.
	KindPatchRegex
)

func (k CommandKind) String() string {
	switch k {
	case KindCreateFile:
		return "CreateFile"
	case KindWriteFile:
		return "WriteFile"
	case KindUpsertFile:
		return "UpsertFile"
	case KindDeleteFile:
		return "DeleteFile"
	case KindMoveFile:
		return "MoveFile"
	case KindCopyFile:
		return "CopyFile"
	case KindAssertFileExists:
		return "AssertFileExists"
	case KindAssertFileNotExists:
		return "AssertFileNotExists"
	case KindAssertRegex:
		return "AssertRegex"
	case KindAssertNotRegex:
		return "AssertNotRegex"
	case KindAssertRegexCount:
		return "AssertRegexCount"
	case KindInsertBeforeRegex:
		return "InsertBeforeRegex"
	case KindInsertAfterRegex:
		return "InsertAfterRegex"
	case KindReplaceRegex:
		return "ReplaceRegex"
	case KindReplaceRegexFirst:
		return "ReplaceRegexFirst"
	case KindDeleteRegex:
		return "DeleteRegex"
	case KindReplaceBlock:
		return "ReplaceBlock"
	case KindScanFile:
		return "ScanFile"
	case KindPatchRegex:
		return "PatchRegex"
	default:
		return "Unknown"
	}
}

// opAliases maps every accepted header token (canonical name and alias,
// uppercased) to its CommandKind.
var opAliases = map[string]CommandKind{
	"CREATE_FILE": KindCreateFile,
	"WRITE_FILE":  KindWriteFile,
	"UPSERT_FILE": KindUpsertFile,
	"DELETE_FILE": KindDeleteFile,
	"MOVE_FILE":   KindMoveFile,
	"COPY_FILE":   KindCopyFile,

	"ASSERT_FILE_EXISTS":     KindAssertFileExists,
	"ASSERT_EXISTS":          KindAssertFileExists,
	"ASSERT_FILE_NOT_EXISTS": KindAssertFileNotExists,
	"ASSERT_NOT_EXISTS":      KindAssertFileNotExists,
	"ASSERT_REGEX":           KindAssertRegex,
	"ASSERT_MATCH":           KindAssertRegex,
	"ASSERT_NOT_REGEX":       KindAssertNotRegex,
	"ASSERT_NOT_MATCH":       KindAssertNotRegex,
	"ASSERT_REGEX_COUNT":     KindAssertRegexCount,
	"ASSERT_COUNT":           KindAssertRegexCount,

	"INSERT_BEFORE_REGEX": KindInsertBeforeRegex,
	"INSERT_AFTER_REGEX":  KindInsertAfterRegex,
	"REPLACE_REGEX":       KindReplaceRegex,
	"REPLACE_REGEX_FIRST": KindReplaceRegexFirst,
	"DELETE_REGEX":        KindDeleteRegex,
	"REPLACE_BLOCK":       KindReplaceBlock,

	"SCAN_FILE": KindScanFile,
	"SCAN":      KindScanFile,

	"PATCH_REGEX": KindPatchRegex,
}

// MinArgs is the minimum positional-arg count each kind requires. A
// command with fewer produces INVALID_ARGS.
var MinArgs = map[CommandKind]int{
	KindCreateFile:          1,
	KindWriteFile:           1,
	KindUpsertFile:          1,
	KindDeleteFile:          0,
	KindMoveFile:            1,
	KindCopyFile:            1,
	KindAssertFileExists:    0,
	KindAssertFileNotExists: 0,
	KindAssertRegex:         1,
	KindAssertNotRegex:      1,
	KindAssertRegexCount:    2,
	KindInsertBeforeRegex:   2,
	KindInsertAfterRegex:    2,
	KindReplaceRegex:        2,
	KindReplaceRegexFirst:   2,
	KindDeleteRegex:         1,
	KindReplaceBlock:        3,
	KindScanFile:            1,
	KindPatchRegex:          1,
}

// multilineOps is MULTILINE_OPS: kinds whose header line may carry an
// implicit or heredoc payload folded in from following lines.
var multilineOps = map[CommandKind]bool{
	KindCreateFile:   true,
	KindWriteFile:    true,
	KindUpsertFile:   true,
	KindReplaceBlock: true,
}

// payloadIndex returns the args[] slot the folded payload replaces.
func payloadIndex(k CommandKind) int {
	if k == KindReplaceBlock {
		return 2
	}
	return 0
}

// Command is one parsed header line plus any folded payload. Immutable
// after Parse returns it.
type Command struct {
	Kind   CommandKind
	RawOp  string // uppercased header token, even when Kind == KindUnknown
	File   string
	Args   []string
	Opts   map[string]string
	Raw    string
	LineNo int
}

// Get looks opts up case-insensitively: keys are stored as parsed but
// matched without regard to case.
func (c Command) Get(key string) (string, bool) {
	key = strings.ToLower(key)
	for k, v := range c.Opts {
		if strings.ToLower(k) == key {
			return v, true
		}
	}
	return "", false
}

// GetBool is Get interpreted as a boolean flag ("1"/"true" are truthy).
func (c Command) GetBool(key string) bool {
	v, ok := c.Get(key)
	if !ok {
		return false
	}
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true" || v == "yes"
}

var cmdLineRe = regexp.MustCompile(`^\s*([A-Za-z_]+)\s*\|`)

func isCommandLine(line string) bool {
	m := cmdLineRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	_, known := opAliases[strings.ToUpper(m[1])]
	return known
}

var optKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*\s*=`)

// splitFields splits a header line on unescaped '|', resolving the two
// recognized escapes (`\|` -> `|`, `\\` -> `\`) inline; every other
// character, including a lone backslash, passes through unchanged.
func splitFields(line string) []string {
	runes := []rune(line)
	var fields []string
	var cur strings.Builder
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c == '\\' && i+1 < len(runes) && (runes[i+1] == '|' || runes[i+1] == '\\') {
			cur.WriteRune(runes[i+1])
			i++
			continue
		}
		if c == '|' {
			fields = append(fields, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(c)
	}
	fields = append(fields, cur.String())
	return fields
}

// parseHeader parses one already-isolated header line into its fields.
// Returns ok=false for blank lines, comment lines, and lines with fewer
// than 2 fields, per the parser's tolerance invariant.
func parseHeader(line string) (opTok, file string, args []string, opts map[string]string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", nil, nil, false
	}

	fields := splitFields(line)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields) < 2 {
		return "", "", nil, nil, false
	}

	opTok = strings.ToUpper(fields[0])
	file = fields[1]
	opts = map[string]string{}
	for _, item := range fields[2:] {
		if isOption(item) {
			k, v, _ := strings.Cut(item, "=")
			opts[strings.TrimSpace(k)] = strings.TrimSpace(v)
			continue
		}
		args = append(args, item)
	}
	return opTok, file, args, opts, true
}

func isOption(item string) bool {
	if strings.HasPrefix(item, `"`) && strings.HasSuffix(item, `"`) && len(item) >= 2 {
		return false
	}
	key, _, found := strings.Cut(item, "=")
	if !found {
		return false
	}
	if strings.Contains(key, " ") {
		return false
	}
	return optKeyRe.MatchString(item)
}

// Parse tokenizes LF-normalized script text into an ordered list of
// Commands, folding heredoc and implicit multiline payloads for ops in
// MULTILINE_OPS. Unknown ops are not rejected here; they come back with
// Kind == KindUnknown so the engine can report UNKNOWN_OP with full
// command context.
func Parse(text string) []Command {
	lines := strings.Split(text, "\n")
	var cmds []Command

	i := 0
	for i < len(lines) {
		raw := lines[i]
		opTok, file, args, opts, ok := parseHeader(raw)
		if !ok {
			i++
			continue
		}
		if strings.TrimSpace(file) == "" {
			i++
			continue
		}
		lineNo := i + 1
		kind := opAliases[opTok]
		if kind == KindUnknown {
			cmds = append(cmds, Command{Kind: KindUnknown, RawOp: opTok, File: file, Args: args, Opts: opts, Raw: raw, LineNo: lineNo})
			i++
			continue
		}

		if multilineOps[kind] {
			idx := payloadIndex(kind)
			if len(args) >= idx {
				consumed, newArgs, next := foldPayload(lines, i+1, idx, args)
				if consumed {
					cmds = append(cmds, Command{Kind: kind, RawOp: opTok, File: file, Args: newArgs, Opts: opts, Raw: raw, LineNo: lineNo})
					i = next
					continue
				}
			}
		}

		cmds = append(cmds, Command{Kind: kind, RawOp: opTok, File: file, Args: args, Opts: opts, Raw: raw, LineNo: lineNo})
		i++
	}
	return cmds
}

// foldPayload implements heredoc and implicit multiline folding for one
// header whose payload slot is args[idx]. It returns consumed=false when
// there was nothing to fold, leaving the header's args untouched.
func foldPayload(lines []string, start, idx int, args []string) (consumed bool, newArgs []string, next int) {
	var placeholder string
	if idx < len(args) {
		placeholder = args[idx]
	}

	if strings.HasPrefix(strings.TrimSpace(placeholder), "<<") {
		tag := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(placeholder), "<<"))
		if tag == "" {
			tag = "EOF"
		}
		var payloadLines []string
		j := start
		for j < len(lines) && strings.TrimSpace(lines[j]) != tag {
			payloadLines = append(payloadLines, lines[j])
			j++
		}
		if j < len(lines) {
			j++ // consume the terminator line
		}
		return true, setArg(args, idx, strings.Join(payloadLines, "\n")), j
	}

	var payloadLines []string
	j := start
	for j < len(lines) && !isCommandLine(lines[j]) {
		payloadLines = append(payloadLines, lines[j])
		j++
	}
	if len(payloadLines) == 0 {
		return false, args, start
	}
	if placeholder != "" {
		payloadLines = append([]string{placeholder}, payloadLines...)
	}
	return true, setArg(args, idx, strings.Join(payloadLines, "\n")), j
}

func setArg(args []string, idx int, value string) []string {
	out := make([]string, idx+1)
	copy(out, args)
	out[idx] = value
	return out
}
