// Command kayton is the reference CLI for the language: it runs
// source files, disassembles compiled modules, and hosts an
// interactive REPL over the same lex → parse → compile → run
// pipeline the `run` subcommand uses for whole files.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v3"

	"github.com/kayton-lang/kayton/pkg/bytecode"
	"github.com/kayton-lang/kayton/pkg/compiler"
	"github.com/kayton-lang/kayton/pkg/host"
	"github.com/kayton-lang/kayton/pkg/lexer"
	"github.com/kayton-lang/kayton/pkg/parser"
	"github.com/kayton-lang/kayton/pkg/stdlib"
	"github.com/kayton-lang/kayton/pkg/vm"
)

const version = "0.1.0"

func main() {
	app := &cli.Command{
		Name:    "kayton",
		Usage:   "an embeddable expression-oriented scripting language",
		Version: version,
		Commands: []*cli.Command{
			runCommand,
			disasmCommand,
			replCommand,
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runREPL()
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "compile and run a .kay source file",
	ArgsUsage: "<file> [entry]",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() < 1 {
			return fmt.Errorf("usage: kayton run <file> [entry]")
		}
		entry := "main"
		if cmd.Args().Len() >= 2 {
			entry = cmd.Args().Get(1)
		}

		src, err := os.ReadFile(cmd.Args().Get(0))
		if err != nil {
			return err
		}
		module, err := compileSource(string(src))
		if err != nil {
			return err
		}

		h := host.New()
		defer h.Close()
		if err := h.RegisterExtensions(stdlib.Extensions()); err != nil {
			return err
		}

		result, err := vm.RunModule(module, entry, h.APICtx())
		if err != nil {
			return fmt.Errorf("runtime error: %w", err)
		}
		fmt.Println(vm.DumpValue(result))
		return nil
	},
}

var disasmCommand = &cli.Command{
	Name:      "disasm",
	Usage:     "compile a .kay source file and print its disassembly",
	ArgsUsage: "<file>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() < 1 {
			return fmt.Errorf("usage: kayton disasm <file>")
		}
		src, err := os.ReadFile(cmd.Args().Get(0))
		if err != nil {
			return err
		}
		module, err := compileSource(string(src))
		if err != nil {
			return err
		}
		d := vm.NewDisassembler(module)
		return d.Disassemble(os.Stdout)
	},
}

var replCommand = &cli.Command{
	Name:  "repl",
	Usage: "start an interactive session",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		return runREPL()
	},
}

// compileSource runs the full front end over src and verifies the
// resulting module before handing it to the VM.
func compileSource(src string) (*bytecode.Module, error) {
	p := parser.New(lexer.New(src))
	program := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("parse errors: %v", errs)
	}

	module, errs := compiler.Compile(program)
	if len(errs) > 0 {
		return nil, fmt.Errorf("compile errors: %v", errs)
	}
	if err := bytecode.Verify(module); err != nil {
		return nil, fmt.Errorf("bytecode did not verify: %w", err)
	}
	return module, nil
}

// runREPL hosts a single long-lived VM context and, for each line of
// input, wraps it in an implicit `fn main() { ... }`, compiles it
// alone (the REPL has no cross-line state: each line is its own
// program), and prints the result.
func runREPL() error {
	rl, err := readline.New("kayton> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	h := host.New()
	defer h.Close()
	if err := h.RegisterExtensions(stdlib.Extensions()); err != nil {
		return err
	}

	fmt.Printf("kayton %s - Ctrl-D to exit\n", version)
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}

		module, err := compileSource("fn main() { " + line + " }")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		result, err := vm.RunModule(module, "main", h.APICtx())
		if err != nil {
			fmt.Fprintln(os.Stderr, "runtime error:", err)
			continue
		}
		fmt.Println(vm.DumpValue(result))
	}
}
