package main

import (
	"fmt"
	"os"

	"oberonc/pkg/compiler"
)

const usage = `usage: oberonc <source.ob> [-c]

  oberonc <source>      interpret the program, printing its output to stdout
  oberonc <source> -c   compile to LLVM-style IR, writing <source>.ll
  oberonc -h            print this message

exit codes: 0 success, 1 user error (I/O or compile error), 2 internal error
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "-help" || args[0] == "--help" {
		fmt.Print(usage)
		return 0
	}

	path := args[0]
	emit := false
	for _, a := range args[1:] {
		if a == "-c" {
			emit = true
			continue
		}
		fmt.Fprintf(os.Stderr, "oberonc: unrecognized argument %q\n", a)
		return 1
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "oberonc: cannot read %s: %v\n", path, err)
		return 1
	}
	src := string(data)

	if emit {
		return compileToFile(src, path)
	}
	return interpret(src)
}

func interpret(src string) int {
	if err := compiler.Run(src, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	return 0
}

func compileToFile(src, sourcePath string) int {
	ir, err := compiler.CompileToIR(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}

	outPath := sourcePath + ".ll"
	if err := writeAtomic(outPath, ir); err != nil {
		fmt.Fprintf(os.Stderr, "oberonc: cannot write %s: %v\n", outPath, err)
		return 1
	}
	return 0
}

// writeAtomic writes content to path by writing a temp file in the same
// directory and renaming it over path, so a crash mid-write never leaves a
// truncated .ll file behind.
func writeAtomic(path, content string) error {
	tmp, err := os.CreateTemp(dirOf(path), ".oberonc-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func exitCodeFor(err error) int {
	if compiler.IsInternalError(err) {
		return 2
	}
	return 1
}
