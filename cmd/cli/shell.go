package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

const (
	prompt         = "catopus> "
	continuePrompt = "     ...> "
)

// runShell reads ';'-terminated statements and runs each across shards.
// Lines starting with '.' are shell commands.
func runShell(client *Client, shards []string, out io.Writer) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := ""
	if dir, err := configDir(); err == nil {
		historyPath = filepath.Join(dir, "shell_history")
		if f, err := os.Open(historyPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if historyPath == "" {
			return
		}
		if f, err := os.Create(historyPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Fprintf(out, "Connected to %s as %s. Shards: %s\n", client.baseURL, client.user, strings.Join(shards, ","))
	fmt.Fprintln(out, "Type '.help' for commands.")

	var buf strings.Builder
	for {
		p := prompt
		if buf.Len() > 0 {
			p = continuePrompt
		}
		input, err := line.Prompt(p)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				buf.Reset()
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out)
				return nil
			}
			return err
		}

		trimmed := strings.TrimSpace(input)
		if buf.Len() == 0 && strings.HasPrefix(trimmed, ".") {
			line.AppendHistory(trimmed)
			var quit bool
			shards, quit = shellCommand(trimmed, shards, out)
			if quit {
				return nil
			}
			continue
		}

		buf.WriteString(input)
		buf.WriteString("\n")
		stmts, rest := splitStatements(buf.String())
		buf.Reset()
		buf.WriteString(rest)

		for _, stmt := range stmts {
			line.AppendHistory(stmt + ";")
			res, err := client.Query(stmt, shards, "")
			if err != nil {
				fmt.Fprintf(out, "ERROR: %v\n", err)
				continue
			}
			if err := printQuery(out, res); err != nil {
				return err
			}
		}
	}
}

// shellCommand handles a dot command and returns the new shard set.
func shellCommand(cmd string, shards []string, out io.Writer) ([]string, bool) {
	name, arg, _ := strings.Cut(cmd, " ")
	switch name {
	case ".quit", ".exit":
		return shards, true
	case ".shards":
		if arg = strings.TrimSpace(arg); arg != "" {
			shards = splitShards(arg)
		}
		fmt.Fprintf(out, "Shards: %s\n", strings.Join(shards, ","))
	case ".help":
		fmt.Fprintln(out, ".shards [a,b,...]  show or set the shard set")
		fmt.Fprintln(out, ".quit              leave the shell")
		fmt.Fprintln(out, "Statements run when terminated with ';'.")
	default:
		fmt.Fprintf(out, "Unknown command %s\n", name)
	}
	return shards, false
}

// splitStatements returns the complete ';'-terminated statements in s and
// the unterminated remainder. Semicolons inside quotes or comments do not
// terminate a statement.
func splitStatements(s string) ([]string, string) {
	var stmts []string
	start := 0
	var quote rune
	lineComment, blockComment := false, false
	runes := []rune(s)

	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case lineComment:
			if c == '\n' {
				lineComment = false
			}
		case blockComment:
			if c == '*' && i+1 < len(runes) && runes[i+1] == '/' {
				blockComment = false
				i++
			}
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '-' && i+1 < len(runes) && runes[i+1] == '-':
			lineComment = true
		case c == '/' && i+1 < len(runes) && runes[i+1] == '*':
			blockComment = true
			i++
		case c == ';':
			if stmt := strings.TrimSpace(string(runes[start:i])); stmt != "" {
				stmts = append(stmts, stmt)
			}
			start = i + 1
		}
	}
	rest := string(runes[start:])
	if strings.TrimSpace(rest) == "" {
		rest = ""
	}
	return stmts, rest
}
