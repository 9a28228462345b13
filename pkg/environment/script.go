package environment

import (
	"strings"
)

// LaunchCommand is the recognized shape of a `java ... -jar <file> ...` line.
type LaunchCommand struct {
	Artifact string   // basename of the -jar argument
	Xms      string   // value of -Xms, without the flag
	Xmx      string   // value of -Xmx, without the flag
	JVMFlags []string // remaining flags between java and -jar, in script order
	Headless bool
}

// ParseScript finds the first java invocation with a -jar argument in a
// shell or batch launch script.
func ParseScript(content string) (LaunchCommand, bool) {
	for _, line := range logicalLines(content) {
		if cmd, ok := parseLaunchLine(tokenize(line)); ok {
			return cmd, true
		}
	}
	return LaunchCommand{}, false
}

// logicalLines joins `\` (sh) and `^` (bat) continuations and drops comments
// and blank lines.
func logicalLines(content string) []string {
	var (
		lines []string
		buf   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			lines = append(lines, s)
		}
		buf.Reset()
	}

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimRight(raw, "\r \t")
		trimmed := strings.TrimSpace(line)
		if buf.Len() == 0 && isComment(trimmed) {
			continue
		}
		if strings.HasSuffix(line, `\`) || strings.HasSuffix(line, "^") {
			buf.WriteString(line[:len(line)-1])
			buf.WriteByte(' ')
			continue
		}
		buf.WriteString(line)
		flush()
	}
	flush()
	return lines
}

func isComment(line string) bool {
	lower := strings.ToLower(line)
	return strings.HasPrefix(line, "#") ||
		strings.HasPrefix(line, "::") ||
		lower == "rem" ||
		strings.HasPrefix(lower, "rem ") ||
		strings.HasPrefix(lower, "@rem")
}

// tokenize splits a command line on whitespace, honoring single and double
// quotes. Quotes are removed from the resulting tokens.
func tokenize(line string) []string {
	var (
		tokens  []string
		cur     strings.Builder
		quote   rune
		inToken bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func isJavaToken(tok string) bool {
	name := strings.ToLower(baseName(tok))
	name = strings.TrimSuffix(name, ".exe")
	return name == "java" || name == "javaw"
}

func isHeadlessToken(tok string) bool {
	switch strings.ToLower(tok) {
	case "nogui", "-nogui", "--nogui":
		return true
	}
	return false
}

func parseLaunchLine(tokens []string) (LaunchCommand, bool) {
	start := -1
	for i, tok := range tokens {
		if isJavaToken(tok) {
			start = i
			break
		}
	}
	if start < 0 {
		return LaunchCommand{}, false
	}

	var cmd LaunchCommand
	found := false
	for i := start + 1; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case found:
			if isHeadlessToken(tok) {
				cmd.Headless = true
			}
		case tok == "-jar":
			if i+1 >= len(tokens) {
				return LaunchCommand{}, false
			}
			artifact := baseName(tokens[i+1])
			if !strings.HasSuffix(strings.ToLower(artifact), ".jar") {
				return LaunchCommand{}, false
			}
			cmd.Artifact = artifact
			found = true
			i++
		case strings.HasPrefix(tok, "-Xms"):
			cmd.Xms = strings.TrimPrefix(tok, "-Xms")
		case strings.HasPrefix(tok, "-Xmx"):
			cmd.Xmx = strings.TrimPrefix(tok, "-Xmx")
		case isHeadlessToken(tok):
			cmd.Headless = true
		case strings.HasPrefix(tok, "-"):
			cmd.JVMFlags = append(cmd.JVMFlags, tok)
		}
	}
	return cmd, found
}

func baseName(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
