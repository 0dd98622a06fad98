// Kestrel CLI - compile, inspect and run scripts from the command line.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/kestreljs/kestrel"
	"github.com/kestreljs/kestrel/manifest"
	"github.com/kestreljs/kestrel/scriptstore"
	"github.com/kestreljs/kestrel/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("kestrel")

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "run":
		err = cmdRun(args[1:])
	case "compile":
		err = cmdCompile(args[1:])
	case "disasm":
		err = cmdDisasm(args[1:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "kestrel: unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "kestrel: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: kestrel <command> [options] [file]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run      Compile and execute a script\n")
	fmt.Fprintf(os.Stderr, "  compile  Compile a script to its portable JSON form\n")
	fmt.Fprintf(os.Stderr, "  disasm   Print the bytecode of a compiled script\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  kestrel run main.js                # Run a script\n")
	fmt.Fprintf(os.Stderr, "  kestrel run -limit 100000 main.js  # Run with an instruction budget\n")
	fmt.Fprintf(os.Stderr, "  kestrel run                        # Run the kestrel.toml entry script\n")
	fmt.Fprintf(os.Stderr, "  kestrel compile -o main.json main.js\n")
	fmt.Fprintf(os.Stderr, "  kestrel disasm main.js\n")
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	limit := fs.Int64("limit", 0, "Instruction budget per run (0 = unlimited)")
	verbose := fs.Bool("v", false, "Verbose output")
	printResult := fs.Bool("print", false, "Print the completion value")
	store := fs.Bool("store", false, "Store the compiled script in the project store")
	fs.Parse(args)

	configureLogging(*verbose)

	path := fs.Arg(0)
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return err
	}
	if path == "" {
		if m == nil {
			return errors.New("no script given and no kestrel.toml found")
		}
		path = m.EntryPath()
		log.Infof("using manifest entry %s", path)
	}
	if *limit == 0 && m != nil {
		*limit = m.Run.InstructionLimit
	}

	script, err := loadScript(path)
	if err != nil {
		return err
	}

	if *store {
		if m == nil {
			return errors.New("-store needs a kestrel.toml project")
		}
		st, err := scriptstore.Open(m.StoreDir())
		if err != nil {
			return err
		}
		h, err := st.Put(script)
		if err != nil {
			return err
		}
		log.Infof("stored %s", scriptstore.FormatHash(h))
	}

	machine := kestrel.New()
	result, err := machine.Run(script, *limit)
	if err != nil {
		var timeout *kestrel.TimeoutError
		if errors.As(err, &timeout) {
			return fmt.Errorf("%s: %w", path, err)
		}
		return fmt.Errorf("%s: %v", path, err)
	}

	log.Infof("completed")
	if *printResult {
		fmt.Println(machine.Export(result))
	}
	return nil
}

// ---------------------------------------------------------------------------
// compile
// ---------------------------------------------------------------------------

func cmdCompile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	out := fs.String("o", "", "Output file (default stdout)")
	verbose := fs.Bool("v", false, "Verbose output")
	store := fs.Bool("store", false, "Store the compiled script in the project store")
	fs.Parse(args)

	configureLogging(*verbose)

	path := fs.Arg(0)
	if path == "" {
		return errors.New("compile needs a script file")
	}
	script, err := loadScript(path)
	if err != nil {
		return err
	}

	if *store {
		m, err := manifest.FindAndLoad(filepath.Dir(path))
		if err != nil {
			return err
		}
		if m == nil {
			return errors.New("-store needs a kestrel.toml project")
		}
		st, err := scriptstore.Open(m.StoreDir())
		if err != nil {
			return err
		}
		h, err := st.Put(script)
		if err != nil {
			return err
		}
		fmt.Println(scriptstore.FormatHash(h))
		return nil
	}

	data, err := json.MarshalIndent(script.ToPortable(), "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if *out == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	log.Infof("writing %s", *out)
	return os.WriteFile(*out, data, 0o644)
}

// ---------------------------------------------------------------------------
// disasm
// ---------------------------------------------------------------------------

func cmdDisasm(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	fs.Parse(args)

	path := fs.Arg(0)
	if path == "" {
		return errors.New("disasm needs a script file")
	}
	script, err := loadScript(path)
	if err != nil {
		return err
	}
	fmt.Print(vm.Disassemble(script))
	return nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// loadScript reads a script from disk. A .json file is taken as a portable
// compiled script; anything else is compiled as source text.
func loadScript(path string) (*kestrel.Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".json") {
		var p kestrel.Portable
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return kestrel.FromPortable(&p)
	}
	return kestrel.Compile(filepath.Base(path), string(data))
}

func configureLogging(verbose bool) {
	verbosity := 0
	if verbose {
		verbosity = 1
	}
	commonlog.Configure(verbosity, nil)
}
