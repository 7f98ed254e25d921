package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"gopkg.in/yaml.v3"

	"lectic/pkg/config"
	"lectic/pkg/document"
	"lectic/pkg/logging"
	"lectic/pkg/pipeline"
)

var Version = "dev"

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		if resolveAndExecSubcommand(os.Args[1], os.Args[2:]) {
			return
		}
	}

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "lectic:", err)
		os.Exit(1)
	}
}

// resolveAndExecSubcommand searches for an external "lectic-<name>"
// program on the runtime search path and, if found, execs it with the
// remaining args, returning true (§6 "Subcommands (lectic-<name>) are
// resolved by searching $LECTIC_RUNTIME, the config directory, the data
// directory, and $PATH in order, preferring the first unique match").
func resolveAndExecSubcommand(name string, rest []string) bool {
	paths := config.RuntimeSearchPath(config.DefaultPaths())
	bin := "lectic-" + name
	var found string
	for _, dir := range paths {
		candidate := filepath.Join(dir, bin)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			found = candidate
			break
		}
	}
	if found == "" {
		return false
	}

	cmd := exec.Command(found, rest...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, "lectic:", err)
		os.Exit(1)
	}
	return true
}

func run(args []string) error {
	var (
		file        string
		inplace     string
		short       bool
		shortOnly   bool
		headerOnly  bool
		quiet       bool
		logFile     string
		showVersion bool
		includes    stringList
	)

	fs := flag.NewFlagSet("lectic", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&file, "file", "", "read document from PATH")
	fs.StringVar(&file, "f", "", "read document from PATH")
	fs.StringVar(&inplace, "inplace", "", "read and rewrite PATH in place")
	fs.StringVar(&inplace, "i", "", "read and rewrite PATH in place")
	fs.BoolVar(&short, "short", false, "emit only the new assistant block")
	fs.BoolVar(&short, "s", false, "emit only the new assistant block")
	fs.BoolVar(&shortOnly, "Short", false, "as -s but only the text, no block fences")
	fs.BoolVar(&shortOnly, "S", false, "as -s but only the text, no block fences")
	fs.BoolVar(&headerOnly, "header", false, "emit only the merged YAML header")
	fs.BoolVar(&headerOnly, "H", false, "emit only the merged YAML header")
	fs.Var(&includes, "Include", "include an extra YAML file into the merge (repeatable)")
	fs.Var(&includes, "I", "include an extra YAML file into the merge (repeatable)")
	fs.BoolVar(&quiet, "quiet", false, "suppress stdout (still streams to --inplace)")
	fs.BoolVar(&quiet, "q", false, "suppress stdout (still streams to --inplace)")
	fs.StringVar(&logFile, "log", "", "debug log FILE")
	fs.StringVar(&logFile, "l", "", "debug log FILE")
	fs.BoolVar(&showVersion, "version", false, "print version and exit 0")
	fs.BoolVar(&showVersion, "v", false, "print version and exit 0")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Println(Version)
		return nil
	}

	path := inplace
	if path == "" {
		path = file
	}
	raw, err := readInput(path)
	if err != nil {
		return err
	}

	logger, closeLogger, err := openLogger(logFile)
	if err != nil {
		return err
	}
	defer closeLogger()

	workspaceDir := ""
	if path != "" {
		workspaceDir = filepath.Dir(path)
	}

	opts := pipeline.Options{
		Paths:        config.DefaultPaths(),
		WorkspaceDir: workspaceDir,
		IncludePaths: includes,
		DocumentPath: path,
		Logger:       logger,
	}

	if headerOnly {
		return printHeader(opts, raw)
	}

	return runConversation(opts, raw, path, inplace != "", short, shortOnly, quiet)
}

// readInput resolves the document source: PATH if given, or stdin
// otherwise. If PATH is given and stdin is also piped, stdin's content
// is appended as a further user message (§4.7 "stdin may append to a
// file read").
func readInput(path string) (string, error) {
	var base string
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		base = string(buf)
	}

	if path == "" {
		buf, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(buf), nil
	}

	if stat, err := os.Stdin.Stat(); err == nil && stat.Mode()&os.ModeCharDevice == 0 && stat.Size() != 0 {
		buf, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		if !strings.HasSuffix(base, "\n") && base != "" {
			base += "\n"
		}
		base += string(buf)
	}
	return base, nil
}

func openLogger(path string) (*logging.Logger, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return logging.New(logging.LevelDebug, f), func() { f.Close() }, nil
}

func printHeader(opts pipeline.Options, raw string) error {
	doc, err := document.Parse(raw)
	if err != nil {
		return err
	}
	merged, err := pipeline.MergedHeaderNode(opts, doc.Header)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(merged)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

// runConversation drives one pipeline.Run call, streaming deltas to
// stdout unless quiet, and handling --inplace rewriting and
// SIGINT/SIGTERM the same way regardless of write target (§4.7, §5
// Cancellation: "SIGINT/SIGTERM close the current assistant block and
// exit with status 0").
func runConversation(opts pipeline.Options, raw, path string, inplace, short, shortOnly, quiet bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var interrupted bool
	var mu sync.Mutex
	go func() {
		<-sigCh
		mu.Lock()
		interrupted = true
		mu.Unlock()
		cancel()
	}()
	defer signal.Stop(sigCh)

	onDelta := func(delta string) error {
		if !quiet {
			fmt.Print(delta)
		}
		return nil
	}

	res, err := pipeline.Run(ctx, opts, raw, onDelta)

	mu.Lock()
	sig := interrupted
	mu.Unlock()
	if sig {
		err = nil
	}

	// A non-nil res carries a valid, rendered assistant block even when
	// err is also non-nil (e.g. the runaway-tool-use bound): that block
	// must still reach --inplace/stdout before the exit status is
	// decided (§7 "exits nonzero only when no valid assistant block
	// could be produced").
	if res == nil {
		if err != nil {
			return err
		}
		return nil
	}

	if inplace {
		if werr := os.WriteFile(path, []byte(res.Document), 0o644); werr != nil {
			return fmt.Errorf("write %s: %w", path, werr)
		}
	}

	if !quiet {
		switch {
		case shortOnly:
			fmt.Println(res.Assistant.Serialize())
		case short:
			fmt.Printf("::: %s\n\n%s\n\n:::\n", res.Assistant.Interlocutor, res.Assistant.Serialize())
		default:
			if !inplace {
				fmt.Print(res.Document)
			}
		}
	}
	// A valid assistant block was produced and written/printed above, so
	// this invocation succeeded even if RunTurnLoop also reported a
	// runaway-tool-use error. That error reaches the output only as the
	// streamed "<error>Runaway tool use!</error>" delta; the rendered
	// block does not contain it.
	return nil
}
