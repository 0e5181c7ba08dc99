// foliant is an interactive client for a foliantd server.
//
// Usage:
//
//	foliant [flags]             Start an interactive REPL
//	foliant [flags] <query>     Run one query and exit
//
// Flags:
//
//	-a, --addr <addr>       Server address (default 127.0.0.1:7401)
//	-t, --timeout <dur>     Per-query timeout (default 5s)
//
// Queries (REPL and one-shot share the same language):
//
//	insert <coll> <doc> [doc ...]        Append JSON documents
//	select <coll>                        Every document, insertion order
//	find <coll> <field> <value>          Documents where field equals value
//	count <coll>                         Number of documents
//	update <coll> <field> <value> <set>  Merge a JSON object into matches
//	delete <coll> <field> <value>        Remove matching documents
//	index <coll> <field>                 Create an index on a field
//	drop <coll>                          Remove a collection
//	collections                          List collections
//	indexes <coll>                       List indexed fields
//	compact                              Rewrite the server's log in place
//	help                                 Show this help
//	exit / quit / q                      Exit
//
// Values are JSON. A bare word that is not valid JSON is taken as a string,
// so `find users name alice` matches documents with "name": "alice".
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/foliantdb/foliant/pkg/client"
	"github.com/foliantdb/foliant/pkg/engine"
)

// opCompact is the reserved maintenance op. The server handles it before
// queries reach the engine.
const opCompact = "compact"

func main() {
	err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := flag.NewFlagSet("foliant", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	addr := flagSet.StringP("addr", "a", "127.0.0.1:7401", "server address")
	timeout := flagSet.DurationP("timeout", "t", 5*time.Second, "per-query timeout")

	err := flagSet.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(os.Stdout, flagSet)

			return nil
		}

		printUsage(os.Stderr, flagSet)

		return err
	}

	c, err := client.Dial(*addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", *addr, err)
	}

	// One-shot mode: the query is the remaining arguments.
	if flagSet.NArg() > 0 {
		defer c.Close()

		return runOnce(c, *timeout, strings.Join(flagSet.Args(), " "))
	}

	repl := &REPL{
		client:  c,
		addr:    *addr,
		timeout: *timeout,
	}

	return repl.Run()
}

func printUsage(w io.Writer, flagSet *flag.FlagSet) {
	fmt.Fprintf(w, "Usage: foliant [flags] [query]\n\n")
	fmt.Fprintf(w, "Without a query, start an interactive REPL. With one,\n")
	fmt.Fprintf(w, "run it and exit (quote it: foliant 'select items').\n\n")
	fmt.Fprintf(w, "Flags:\n")
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}

func runOnce(c *client.Client, timeout time.Duration, line string) error {
	query, err := parseQuery(line)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := c.Do(ctx, query)
	if err != nil {
		return err
	}

	printResult(os.Stdout, query.Op, result)

	return nil
}

// REPL is the interactive query loop.
type REPL struct {
	client  *client.Client
	addr    string
	timeout time.Duration
	liner   *liner.State
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".foliant_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("foliant - connected to %s\n", r.addr)
	fmt.Println("Type 'help' for the query language.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("foliant> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		word, _, _ := strings.Cut(line, " ")
		switch strings.ToLower(word) {
		case "exit", "quit", "q":
			fmt.Println("Bye!")

			r.saveHistory()

			return r.client.Close()

		case "help", "?":
			printHelp()

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			r.execute(line)
		}
	}

	r.saveHistory()

	return r.client.Close()
}

// saveHistory persists command history to disk.
func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

// execute parses one line, runs it against the server, and prints the
// outcome. Query rejections leave the connection alone; transport failures
// poison it, so those trigger a redial.
func (r *REPL) execute(line string) {
	query, err := parseQuery(line)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	result, err := r.client.Do(ctx, query)
	if err == nil {
		printResult(os.Stdout, query.Op, result)

		return
	}

	fmt.Printf("Error: %v\n", err)

	if !errors.Is(err, client.ErrQuery) {
		r.redial()
	}
}

// redial replaces the poisoned connection. On failure the closed client
// stays in place and the next query retries the dial.
func (r *REPL) redial() {
	_ = r.client.Close()

	c, err := client.Dial(r.addr)
	if err != nil {
		fmt.Printf("Reconnect to %s failed: %v (retrying on next query)\n", r.addr, err)

		return
	}

	r.client = c

	fmt.Println("Reconnected.")
}

// completer provides tab completion for the first word of a query.
func completer(line string) []string {
	commands := []string{
		"insert", "select", "find", "count",
		"update", "delete", "index", "drop",
		"collections", "indexes", "compact",
		"clear", "cls", "help", "exit", "quit", "q",
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func printHelp() {
	fmt.Println("Queries:")
	fmt.Println("  insert <coll> <doc> [doc ...]        Append JSON documents")
	fmt.Println("  select <coll>                        Every document, insertion order")
	fmt.Println("  find <coll> <field> <value>          Documents where field equals value")
	fmt.Println("  count <coll>                         Number of documents")
	fmt.Println("  update <coll> <field> <value> <set>  Merge a JSON object into matches")
	fmt.Println("  delete <coll> <field> <value>        Remove matching documents")
	fmt.Println("  index <coll> <field>                 Create an index on a field")
	fmt.Println("  drop <coll>                          Remove a collection")
	fmt.Println("  collections                          List collections")
	fmt.Println("  indexes <coll>                       List indexed fields")
	fmt.Println("  compact                              Rewrite the server's log in place")
	fmt.Println("  help                                 Show this help")
	fmt.Println("  exit / quit / q                      Exit")
	fmt.Println()
	fmt.Println("Values are JSON: find items id 1, find users name \"alice smith\".")
	fmt.Println("A bare word that is not valid JSON is taken as a string.")
}

// parseQuery turns one line into a wire query. JSON arguments decode
// exactly as they would on the wire, so `find items id 1` matches
// documents inserted as {"id": 1}.
func parseQuery(line string) (engine.Query, error) {
	op, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	op = strings.ToLower(op)
	rest = strings.TrimSpace(rest)

	switch op {
	case engine.OpInsert:
		coll, docsJSON := nextWord(rest)
		if coll == "" || docsJSON == "" {
			return engine.Query{}, errors.New("usage: insert <coll> <doc> [doc ...]")
		}

		docs, err := parseDocs(docsJSON)
		if err != nil {
			return engine.Query{}, err
		}

		return engine.Query{Op: op, Collection: coll, Docs: docs}, nil

	case engine.OpSelect, engine.OpCount, engine.OpDrop, engine.OpIndexes:
		coll, extra := nextWord(rest)
		if coll == "" || extra != "" {
			return engine.Query{}, fmt.Errorf("usage: %s <coll>", op)
		}

		return engine.Query{Op: op, Collection: coll}, nil

	case engine.OpIndex:
		coll, fieldRest := nextWord(rest)

		field, extra := nextWord(fieldRest)
		if coll == "" || field == "" || extra != "" {
			return engine.Query{}, errors.New("usage: index <coll> <field>")
		}

		return engine.Query{Op: op, Collection: coll, Field: field}, nil

	case engine.OpFind, engine.OpDelete:
		coll, fieldRest := nextWord(rest)

		field, valueJSON := nextWord(fieldRest)
		if coll == "" || field == "" || valueJSON == "" {
			return engine.Query{}, fmt.Errorf("usage: %s <coll> <field> <value>", op)
		}

		value, err := parseValue(valueJSON)
		if err != nil {
			return engine.Query{}, err
		}

		return engine.Query{Op: op, Collection: coll, Field: field, Value: value}, nil

	case engine.OpUpdate:
		coll, fieldRest := nextWord(rest)

		field, valueAndSet := nextWord(fieldRest)
		if coll == "" || field == "" || valueAndSet == "" {
			return engine.Query{}, errors.New("usage: update <coll> <field> <value> <set>")
		}

		value, set, err := parseValueAndSet(valueAndSet)
		if err != nil {
			return engine.Query{}, err
		}

		return engine.Query{Op: op, Collection: coll, Field: field, Value: value, Set: set}, nil

	case engine.OpCollections, opCompact:
		if rest != "" {
			return engine.Query{}, fmt.Errorf("%s takes no arguments", op)
		}

		return engine.Query{Op: op}, nil

	default:
		return engine.Query{}, fmt.Errorf("unknown query %q (type 'help' for the language)", op)
	}
}

// nextWord splits the first space-separated word off s.
func nextWord(s string) (string, string) {
	word, rest, _ := strings.Cut(s, " ")

	return word, strings.TrimSpace(rest)
}

// parseDocs decodes a stream of JSON objects.
func parseDocs(s string) ([]engine.Document, error) {
	dec := json.NewDecoder(strings.NewReader(s))

	var docs []engine.Document

	for {
		var doc engine.Document

		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("document %d: %v", len(docs)+1, err)
		}

		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		return nil, errors.New("at least one JSON document is required")
	}

	return docs, nil
}

// parseValue decodes one JSON value. A bare word that is not valid JSON is
// taken as a string, so `find users name alice` works without quoting.
func parseValue(s string) (any, error) {
	var value any

	err := json.Unmarshal([]byte(s), &value)
	if err != nil {
		if strings.ContainsAny(s, " \t{[") {
			return nil, fmt.Errorf("invalid JSON value %q: %v", s, err)
		}

		return s, nil
	}

	return value, nil
}

// parseValueAndSet splits `<value> <set>` for update. The set must be a
// JSON object; the value gets the same bare-word fallback as parseValue.
func parseValueAndSet(s string) (any, engine.Document, error) {
	dec := json.NewDecoder(strings.NewReader(s))

	var value any

	err := dec.Decode(&value)
	if err != nil {
		word, setJSON := nextWord(s)
		if setJSON == "" {
			return nil, nil, errors.New("usage: update <coll> <field> <value> <set>")
		}

		value = word
		dec = json.NewDecoder(strings.NewReader(setJSON))
	}

	var set engine.Document

	err = dec.Decode(&set)
	if err != nil {
		return nil, nil, fmt.Errorf("set document: %v", err)
	}

	if dec.More() {
		return nil, nil, errors.New("unexpected input after the set document")
	}

	return value, set, nil
}

// printResult renders a successful response for the given op.
func printResult(out io.Writer, op string, result any) {
	switch op {
	case engine.OpInsert:
		fmt.Fprintf(out, "OK: inserted %s\n", formatCount(result))

	case engine.OpDelete:
		fmt.Fprintf(out, "OK: deleted %s\n", formatCount(result))

	case engine.OpUpdate:
		fmt.Fprintf(out, "OK: updated %s\n", formatCount(result))

	case engine.OpDrop:
		fmt.Fprintf(out, "OK: dropped collection with %s documents\n", formatCount(result))

	case engine.OpIndex:
		fmt.Fprintln(out, "OK: index created")

	case engine.OpCount:
		fmt.Fprintln(out, formatCount(result))

	case engine.OpSelect, engine.OpFind:
		printDocs(out, result)

	case engine.OpCollections, engine.OpIndexes:
		printList(out, result)

	case opCompact:
		printCompact(out, result)

	default:
		raw, err := json.Marshal(result)
		if err != nil {
			fmt.Fprintf(out, "%v\n", result)

			return
		}

		fmt.Fprintf(out, "%s\n", raw)
	}
}

// formatCount renders a numeric result. Counts travel as JSON numbers and
// arrive as float64.
func formatCount(result any) string {
	if n, ok := result.(float64); ok {
		return strconv.FormatInt(int64(n), 10)
	}

	return fmt.Sprintf("%v", result)
}

func printDocs(out io.Writer, result any) {
	docs, ok := result.([]any)
	if !ok || len(docs) == 0 {
		fmt.Fprintln(out, "(no documents)")

		return
	}

	for i, doc := range docs {
		raw, err := json.Marshal(doc)
		if err != nil {
			fmt.Fprintf(out, "%3d. %v\n", i+1, doc)

			continue
		}

		fmt.Fprintf(out, "%3d. %s\n", i+1, raw)
	}
}

func printList(out io.Writer, result any) {
	items, ok := result.([]any)
	if !ok || len(items) == 0 {
		fmt.Fprintln(out, "(none)")

		return
	}

	for _, item := range items {
		fmt.Fprintf(out, "%v\n", item)
	}
}

func printCompact(out io.Writer, result any) {
	if m, ok := result.(map[string]any); ok {
		if performed, ok := m["compacted"].(bool); ok {
			if performed {
				fmt.Fprintln(out, "OK: log compacted")
			} else {
				fmt.Fprintln(out, "OK: compaction already in progress")
			}

			return
		}
	}

	fmt.Fprintln(out, "OK")
}
