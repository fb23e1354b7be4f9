// Command udog runs udog bytecode assembly source files and offers a
// small interactive REPL, wiring pkg/compiler's assembler into
// pkg/vm's embedder API the way an out-of-process embedder would.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kristofer/udog/pkg/compiler"
	"github.com/kristofer/udog/pkg/vm"
)

const version = "0.1.0"

func main() {
	app := &cli.Command{
		Name:  "udog",
		Usage: "a class-based bytecode VM",
		Commands: []*cli.Command{
			runCommand,
			replCommand,
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "version",
				Aliases: []string{"v"},
				Usage:   "print the udog version and exit",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Bool("version") {
				fmt.Println("udog version " + version)
				return nil
			}
			if cmd.Args().Len() > 0 {
				return runFile(cmd.Args().First())
			}
			return runREPL()
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "udog: %v\n", err)
		os.Exit(1)
	}
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "assemble and run a source file",
	ArgsUsage: "<file>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() == 0 {
			return fmt.Errorf("no file specified")
		}
		return runFile(cmd.Args().First())
	},
}

var replCommand = &cli.Command{
	Name:  "repl",
	Usage: "start an interactive session",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		return runREPL()
	},
}

// newVM wires this repo's bytecode assembler into the embedder's
// Config.Compile seam (see pkg/vm.Compiler's doc comment on why
// package vm can't default this itself).
func newVM() *vm.VM {
	return vm.New(vm.Config{
		Compile: compiler.AssembleSource,
		Print:   os.Stdout,
	})
}

func runFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filename, err)
	}

	v := newVM()
	_, err = v.RunModule("main", string(data))
	if err != nil {
		return fmt.Errorf("running %s: %w", filename, err)
	}
	return nil
}

// runREPL assembles and runs one module per line, the way a shell for
// a line-oriented assembly format naturally works: there's no partial-
// statement continuation to track, since every line is already a
// complete instruction.
func runREPL() error {
	fmt.Println("udog " + version + " — type 'exit' to quit")
	v := newVM()
	scanner := bufio.NewScanner(os.Stdin)
	count := 0
	for {
		fmt.Print("udog> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "exit" || line == "quit" {
			break
		}
		if line == "" {
			continue
		}
		count++
		modName := fmt.Sprintf("<repl %d>", count)
		result, err := v.RunModule(modName, line+"\nreturn\nend\n")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if !result.IsNull() {
			fmt.Println(result.String())
		}
	}
	return scanner.Err()
}
