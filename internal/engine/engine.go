// Package engine dispatches each parsed dsl.Command against an overlay
// vfs.VFS, implementing the assertions, file lifecycle, regex mutation,
// and inspection operations.
package engine

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/maiconjh/svpatch/internal/dsl"
	"github.com/maiconjh/svpatch/internal/pathguard"
	"github.com/maiconjh/svpatch/internal/rx"
	"github.com/maiconjh/svpatch/internal/vfs"
)

const (
	DefaultScanMax     = 20
	DefaultScanContext = 2
)

// Options configures one command's execution: the path-guard allow-list and
// root it runs against, whether strict no-op checking applies, and the
// wall-clock budget given to each regex call.
type Options struct {
	Root         string
	Allow        []string
	Strict       bool
	RegexTimeout time.Duration
}

func (o Options) timeout() time.Duration {
	if o.RegexTimeout <= 0 {
		return rx.DefaultTimeout
	}
	return o.RegexTimeout
}

// ScanMatch is one match record produced by ScanFile.
type ScanMatch struct {
	Line          int
	Col           int
	Match         string
	ContextBefore []string
	ContextLine   string
	ContextAfter  []string
}

// Outcome is the per-command result recorded by the runner: the error
// taxonomy code (empty on success), the changed signal (0, 1, or -1 for a
// regex timeout), and any ScanFile match records.
type Outcome struct {
	Op      string
	File    string
	Line    int
	Changed int
	Error   string
	Matches []ScanMatch
}

func outcome(cmd dsl.Command, kind dsl.CommandKind) Outcome {
	return Outcome{Op: kind.String(), File: cmd.File, Line: cmd.LineNo}
}

func fail(o Outcome, errCode string) Outcome {
	o.Error = errCode
	return o
}

// Execute runs cmd against v under opts and returns its Outcome.
func Execute(cmd dsl.Command, v *vfs.VFS, opts Options) Outcome {
	if cmd.Kind == dsl.KindUnknown {
		o := outcome(cmd, cmd.Kind)
		o.Op = cmd.RawOp
		return fail(o, ErrUnknownOp)
	}

	cmd.File = pathguard.Normalize(cmd.File)

	c, canonErr := canonicalize(cmd)
	if canonErr != "" {
		return fail(outcome(cmd, cmd.Kind), canonErr)
	}
	o := outcome(cmd, c.kind)

	if min := dsl.MinArgs[c.kind]; len(c.args) < min {
		return fail(o, InvalidArgs(min, len(c.args)))
	}

	if !pathguard.Allowed(cmd.File, opts.Allow, opts.Root) {
		return fail(o, ErrPathNotAllowed)
	}

	switch c.kind {
	case dsl.KindCreateFile:
		return execCreateFile(o, cmd, c, v, opts)
	case dsl.KindWriteFile:
		return execWriteFile(o, cmd, c, v, opts)
	case dsl.KindUpsertFile:
		return execUpsertFile(o, cmd, c, v, opts)
	case dsl.KindDeleteFile:
		return execDeleteFile(o, cmd, v, opts)
	case dsl.KindMoveFile:
		return execMoveOrCopy(o, cmd, c, v, opts, true)
	case dsl.KindCopyFile:
		return execMoveOrCopy(o, cmd, c, v, opts, false)
	case dsl.KindAssertFileExists:
		return execAssertExists(o, cmd, v, true)
	case dsl.KindAssertFileNotExists:
		return execAssertExists(o, cmd, v, false)
	case dsl.KindAssertRegex:
		return execAssertRegex(o, cmd, c, v, opts, true)
	case dsl.KindAssertNotRegex:
		return execAssertRegex(o, cmd, c, v, opts, false)
	case dsl.KindAssertRegexCount:
		return execAssertRegexCount(o, cmd, c, v, opts)
	case dsl.KindInsertBeforeRegex, dsl.KindInsertAfterRegex, dsl.KindReplaceRegex,
		dsl.KindReplaceRegexFirst, dsl.KindDeleteRegex:
		return execRegexMutation(o, cmd, c, v, opts)
	case dsl.KindReplaceBlock:
		return execReplaceBlock(o, cmd, c, v, opts)
	case dsl.KindScanFile:
		return execScanFile(o, cmd, c, v, opts)
	default:
		return fail(o, ErrUnknownOp)
	}
}

// decodePayload decodes a payload arg: a double-quoted JSON string literal
// is JSON-decoded, anything else (including heredoc/multiline payloads) is
// taken verbatim.
func decodePayload(s string) string {
	t := strings.TrimSpace(s)
	if len(t) >= 2 && strings.HasPrefix(t, `"`) && strings.HasSuffix(t, `"`) {
		var decoded string
		if err := json.Unmarshal([]byte(t), &decoded); err == nil {
			return decoded
		}
	}
	return s
}

func strictCheck(o Outcome, cmd dsl.Command, opts Options, changed bool) Outcome {
	if changed {
		o.Changed = 1
		return o
	}
	o.Changed = 0
	if opts.Strict && !cmd.GetBool("ALLOW_NOOP") {
		return fail(o, ErrStrictFailNoChange)
	}
	return o
}

func execCreateFile(o Outcome, cmd dsl.Command, c canonical, v *vfs.VFS, opts Options) Outcome {
	exists, _, err := v.Exists(cmd.File)
	if err != nil {
		return fail(o, err.Error())
	}
	if exists {
		o.Changed = 0
		return o
	}
	changed, err := v.Write(cmd.File, decodePayload(c.args[0]))
	if err != nil {
		return fail(o, err.Error())
	}
	return strictCheck(o, cmd, opts, changed)
}

func execWriteFile(o Outcome, cmd dsl.Command, c canonical, v *vfs.VFS, opts Options) Outcome {
	exists, isDir, err := v.Exists(cmd.File)
	if err != nil {
		return fail(o, err.Error())
	}
	if !exists {
		return fail(o, ErrFileNotFound)
	}
	if isDir {
		return fail(o, ErrDirectoryNotSupported)
	}
	changed, err := v.Write(cmd.File, decodePayload(c.args[0]))
	if err != nil {
		return fail(o, err.Error())
	}
	return strictCheck(o, cmd, opts, changed)
}

func execUpsertFile(o Outcome, cmd dsl.Command, c canonical, v *vfs.VFS, opts Options) Outcome {
	changed, err := v.Write(cmd.File, decodePayload(c.args[0]))
	if err != nil {
		return fail(o, err.Error())
	}
	return strictCheck(o, cmd, opts, changed)
}

func execDeleteFile(o Outcome, cmd dsl.Command, v *vfs.VFS, opts Options) Outcome {
	exists, _, err := v.Exists(cmd.File)
	if err != nil {
		return fail(o, err.Error())
	}
	if !exists {
		o.Changed = 0
		if opts.Strict && !cmd.GetBool("ALLOW_NOOP") {
			return fail(o, ErrStrictFailNoChange)
		}
		return o
	}
	if err := v.Delete(cmd.File); err != nil {
		if errors.Is(err, vfs.ErrDirectoryNotSupported) {
			return fail(o, ErrDirectoryNotSupported)
		}
		return fail(o, err.Error())
	}
	o.Changed = 1
	return o
}

func execMoveOrCopy(o Outcome, cmd dsl.Command, c canonical, v *vfs.VFS, opts Options, isMove bool) Outcome {
	dst := pathguard.Normalize(c.args[0])
	if !pathguard.Allowed(dst, opts.Allow, opts.Root) {
		return fail(o, ErrPathNotAllowed)
	}

	srcExists, srcIsDir, err := v.Exists(cmd.File)
	if err != nil {
		return fail(o, err.Error())
	}
	if !srcExists {
		if cmd.GetBool("ALLOW_NOOP") {
			o.Changed = 0
			return o
		}
		return fail(o, ErrFileNotFound)
	}
	if srcIsDir {
		return fail(o, ErrDirectoryNotSupported)
	}

	if dst == cmd.File {
		o.Changed = 0
		return o
	}

	dstExists, dstIsDir, err := v.Exists(dst)
	if err != nil {
		return fail(o, err.Error())
	}
	if dstIsDir {
		return fail(o, ErrDestinationIsDir)
	}

	content, _, err := v.Read(cmd.File)
	if err != nil {
		return fail(o, err.Error())
	}

	if dstExists {
		dstContent, _, err := v.Read(dst)
		if err != nil {
			return fail(o, err.Error())
		}
		if dstContent != content && !cmd.GetBool("OVERWRITE") {
			return fail(o, ErrDestinationExists)
		}
	}

	changed, err := v.Write(dst, content)
	if err != nil {
		return fail(o, err.Error())
	}
	if isMove {
		if err := v.Delete(cmd.File); err != nil {
			return fail(o, err.Error())
		}
		changed = true
	}
	return strictCheck(o, cmd, opts, changed)
}

func execAssertExists(o Outcome, cmd dsl.Command, v *vfs.VFS, wantExists bool) Outcome {
	exists, _, err := v.Exists(cmd.File)
	if err != nil {
		return fail(o, err.Error())
	}
	o.Changed = 0
	if exists != wantExists {
		if wantExists {
			return fail(o, AssertFailed("ASSERT_FILE_EXISTS"))
		}
		return fail(o, AssertFailed("ASSERT_FILE_NOT_EXISTS"))
	}
	return o
}

func execAssertRegex(o Outcome, cmd dsl.Command, c canonical, v *vfs.VFS, opts Options, wantMatch bool) Outcome {
	content, exists, err := v.Read(cmd.File)
	if err != nil {
		return fail(o, err.Error())
	}
	if !exists {
		return fail(o, ErrFileNotFound)
	}
	re, err := rx.Compile(c.args[0])
	if err != nil {
		return fail(o, RegexError(err.Error()))
	}
	_, found, err := rx.FindFirst(re, content, opts.timeout())
	if err == rx.TimedOut {
		o.Changed = -1
		return fail(o, ErrRegexTimeout)
	}
	o.Changed = 0
	if found != wantMatch {
		name := "ASSERT_REGEX"
		if !wantMatch {
			name = "ASSERT_NOT_REGEX"
		}
		return fail(o, AssertFailed(name))
	}
	return o
}

func execAssertRegexCount(o Outcome, cmd dsl.Command, c canonical, v *vfs.VFS, opts Options) Outcome {
	want, err := strconv.Atoi(strings.TrimSpace(c.args[1]))
	if err != nil {
		return fail(o, InvalidArgsMsg("expected integer count"))
	}
	content, exists, err := v.Read(cmd.File)
	if err != nil {
		return fail(o, err.Error())
	}
	if !exists {
		return fail(o, ErrFileNotFound)
	}
	re, err := rx.Compile(c.args[0])
	if err != nil {
		return fail(o, RegexError(err.Error()))
	}
	got, err := rx.Count(re, content, opts.timeout())
	if err == rx.TimedOut {
		o.Changed = -1
		return fail(o, ErrRegexTimeout)
	}
	o.Changed = 0
	if got != want {
		return fail(o, AssertFailed("ASSERT_REGEX_COUNT"))
	}
	return o
}

func execRegexMutation(o Outcome, cmd dsl.Command, c canonical, v *vfs.VFS, opts Options) Outcome {
	content, exists, err := v.Read(cmd.File)
	if err != nil {
		return fail(o, err.Error())
	}
	if !exists {
		return fail(o, ErrFileNotFound)
	}
	re, err := rx.Compile(c.args[0])
	if err != nil {
		return fail(o, RegexError(err.Error()))
	}

	var newText string
	timeout := opts.timeout()
	switch c.kind {
	case dsl.KindInsertBeforeRegex:
		m, found, rerr := rx.FindFirst(re, content, timeout)
		if rerr == rx.TimedOut {
			o.Changed = -1
			return fail(o, ErrRegexTimeout)
		}
		if !found {
			newText = content
		} else {
			newText = content[:m.Start] + c.args[1] + "\n" + content[m.Start:]
		}
	case dsl.KindInsertAfterRegex:
		m, found, rerr := rx.FindFirst(re, content, timeout)
		if rerr == rx.TimedOut {
			o.Changed = -1
			return fail(o, ErrRegexTimeout)
		}
		if !found {
			newText = content
		} else {
			newText = content[:m.End] + "\n" + c.args[1] + content[m.End:]
		}
	case dsl.KindReplaceRegex:
		result, _, rerr := rx.ReplaceAll(re, content, c.args[1], timeout)
		if rerr == rx.TimedOut {
			o.Changed = -1
			return fail(o, ErrRegexTimeout)
		}
		newText = result
	case dsl.KindReplaceRegexFirst:
		result, _, rerr := rx.ReplaceFirst(re, content, c.args[1], timeout)
		if rerr == rx.TimedOut {
			o.Changed = -1
			return fail(o, ErrRegexTimeout)
		}
		newText = result
	case dsl.KindDeleteRegex:
		result, _, rerr := rx.ReplaceAll(re, content, "", timeout)
		if rerr == rx.TimedOut {
			o.Changed = -1
			return fail(o, ErrRegexTimeout)
		}
		newText = result
	}

	changed, err := v.Write(cmd.File, newText)
	if err != nil {
		return fail(o, err.Error())
	}
	return strictCheck(o, cmd, opts, changed)
}

func execReplaceBlock(o Outcome, cmd dsl.Command, c canonical, v *vfs.VFS, opts Options) Outcome {
	content, exists, err := v.Read(cmd.File)
	if err != nil {
		return fail(o, err.Error())
	}
	if !exists {
		return fail(o, ErrFileNotFound)
	}
	startRe, err := rx.Compile(c.args[0])
	if err != nil {
		return fail(o, RegexError(err.Error()))
	}
	endRe, err := rx.Compile(c.args[1])
	if err != nil {
		return fail(o, RegexError(err.Error()))
	}
	timeout := opts.timeout()

	start, found, rerr := rx.FindFirst(startRe, content, timeout)
	if rerr == rx.TimedOut {
		o.Changed = -1
		return fail(o, ErrRegexTimeout)
	}
	newText := content
	if found {
		suffix := content[start.End:]
		end, endFound, rerr := rx.FindFirst(endRe, suffix, timeout)
		if rerr == rx.TimedOut {
			o.Changed = -1
			return fail(o, ErrRegexTimeout)
		}
		if endFound {
			blockEnd := start.End + end.End
			newText = content[:start.Start] + c.args[2] + content[blockEnd:]
		}
	}

	changed, err := v.Write(cmd.File, newText)
	if err != nil {
		return fail(o, err.Error())
	}
	return strictCheck(o, cmd, opts, changed)
}

func execScanFile(o Outcome, cmd dsl.Command, c canonical, v *vfs.VFS, opts Options) Outcome {
	content, exists, err := v.Read(cmd.File)
	if err != nil {
		return fail(o, err.Error())
	}
	if !exists {
		return fail(o, ErrFileNotFound)
	}
	re, err := rx.Compile(c.args[0])
	if err != nil {
		return fail(o, RegexError(err.Error()))
	}

	max := DefaultScanMax
	if raw, ok := cmd.Get("MAX"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
			max = n
		}
	}
	ctx := DefaultScanContext
	if raw, ok := cmd.Get("CONTEXT"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n >= 0 {
			ctx = n
		}
	}

	matches, rerr := rx.FindAll(re, content, max, opts.timeout())
	if rerr == rx.TimedOut {
		o.Changed = -1
		return fail(o, ErrRegexTimeout)
	}

	lines := strings.Split(content, "\n")
	offsets := make([]int, len(lines))
	running := 0
	for i, l := range lines {
		offsets[i] = running
		running += len(l) + 1
	}
	lineForOffset := func(pos int) (lineIdx, col int) {
		lo, hi := 0, len(offsets)-1
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if offsets[mid] <= pos {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		return lo, pos - offsets[lo] + 1
	}

	o.Matches = make([]ScanMatch, 0, len(matches))
	for _, m := range matches {
		lineIdx, col := lineForOffset(m.Start)
		sm := ScanMatch{
			Line:        lineIdx + 1,
			Col:         col,
			Match:       m.Text,
			ContextLine: lines[lineIdx],
		}
		for i := lineIdx - ctx; i < lineIdx; i++ {
			if i >= 0 {
				sm.ContextBefore = append(sm.ContextBefore, lines[i])
			}
		}
		for i := lineIdx + 1; i <= lineIdx+ctx && i < len(lines); i++ {
			sm.ContextAfter = append(sm.ContextAfter, lines[i])
		}
		o.Matches = append(o.Matches, sm)
	}
	o.Changed = 0
	return o
}
