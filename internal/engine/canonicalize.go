package engine

import (
	"github.com/maiconjh/svpatch/internal/dsl"
)

// canonical is a Command rewritten to a concrete, dispatchable kind: every
// CommandKind except KindPatchRegex passes through unchanged; KindPatchRegex
// is rewritten into the mutation kind its MODE option selects.
type canonical struct {
	kind dsl.CommandKind
	args []string
}

// canonicalize resolves cmd.Kind (and cmd.Args, for PatchRegex) into a
// concrete dispatchable kind. Canonicalization failure (unknown mode,
// missing args for the selected mode) is reported as an INVALID_ARGS
// error and the command proceeds no further.
func canonicalize(cmd dsl.Command) (canonical, string) {
	if cmd.Kind != dsl.KindPatchRegex {
		return canonical{kind: cmd.Kind, args: cmd.Args}, ""
	}

	mode, ok := cmd.Get("MODE")
	if !ok {
		return canonical{}, InvalidArgsMsg("PatchRegex requires MODE")
	}
	if len(cmd.Args) < 1 {
		return canonical{}, InvalidArgs(1, len(cmd.Args))
	}
	regex := cmd.Args[0]

	switch mode {
	case "replace":
		if len(cmd.Args) < 2 {
			return canonical{}, InvalidArgs(2, len(cmd.Args))
		}
		kind := dsl.KindReplaceRegex
		if cmd.GetBool("FIRST") {
			kind = dsl.KindReplaceRegexFirst
		}
		return canonical{kind: kind, args: []string{regex, cmd.Args[1]}}, ""
	case "insert_before":
		if len(cmd.Args) < 2 {
			return canonical{}, InvalidArgs(2, len(cmd.Args))
		}
		return canonical{kind: dsl.KindInsertBeforeRegex, args: []string{regex, cmd.Args[1]}}, ""
	case "insert_after":
		if len(cmd.Args) < 2 {
			return canonical{}, InvalidArgs(2, len(cmd.Args))
		}
		return canonical{kind: dsl.KindInsertAfterRegex, args: []string{regex, cmd.Args[1]}}, ""
	case "delete":
		return canonical{kind: dsl.KindDeleteRegex, args: []string{regex}}, ""
	default:
		return canonical{}, InvalidArgsMsg("unknown PatchRegex mode " + mode)
	}
}
