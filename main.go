package main

import (
	"flag"
	"os"

	"grimm.is/toggled/cmd"
	"grimm.is/toggled/internal/brand"
	"grimm.is/toggled/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	defaultConfig := brand.ConfigPath()

	switch os.Args[1] {
	case "run":
		runFlags := flag.NewFlagSet("run", flag.ExitOnError)
		configFile := runFlags.String("config", defaultConfig, "Configuration file")
		runFlags.StringVar(configFile, "c", defaultConfig, "Configuration file (short)")
		runFlags.Parse(os.Args[2:])

		if len(runFlags.Args()) > 0 {
			*configFile = runFlags.Arg(0)
		}

		if err := cmd.RunDaemon(*configFile); err != nil {
			printer.Fprintf(os.Stderr, "Run failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		connect := checkFlags.Bool("connect", false, "Also connect to the router and read it once")
		checkFlags.BoolVar(connect, "C", false, "Connect to the router (short)")
		checkFlags.Parse(os.Args[2:])

		configFile := defaultConfig
		if len(checkFlags.Args()) > 0 {
			configFile = checkFlags.Arg(0)
		}

		if err := cmd.RunCheck(configFile, *connect); err != nil {
			printer.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "list", "ls":
		if err := cmd.RunList(os.Args[2:]); err != nil {
			printer.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "toggle", "set":
		if err := cmd.RunToggle(os.Args[2:]); err != nil {
			printer.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "status":
		if err := cmd.RunStatus(os.Args[2:]); err != nil {
			printer.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "audit":
		if err := cmd.RunAudit(os.Args[2:]); err != nil {
			printer.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "watch":
		if err := cmd.RunWatch(os.Args[2:]); err != nil {
			printer.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "hash-key":
		if err := cmd.RunHashKey(os.Args[2:]); err != nil {
			printer.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "version":
		printer.Printf("%s version %s\n", brand.Name, brand.Version)
		printer.Printf("Build: %s (%s)\n", brand.BuildTime, brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Daemon:
  run       Poll the router and serve the toggle API
            Options: --config (-c) <file>
  check     Validate configuration file
            Options: --connect (-C)
  hash-key  Print the bcrypt hash of an API key for api_key_hash
            Options: --cost <n>; reads the key from stdin when omitted

Client Commands (talk to a running daemon):
  list      List toggles and their displayed state
            Options: --type (-t) <type>, --json
  toggle    Turn a toggle on or off: toggle <entity> on|off
  status    Show snapshot age and access
  audit     Show recorded toggle attempts
            Options: --entity, --outcome, --since <dur>, -n <count>
  watch     Stream toggle and snapshot events
            Options: --types <list>

  Client commands accept --remote (-r) <addr> and --api-key (-k) <key>,
  defaulting to $%s_REMOTE and $%s_API_KEY.

Examples:
  %s run -c %s
  %s list -t nat
  %s toggle queue/guests off
  %s watch --types toggle.state
`,
		brand.Name, brand.Description,
		brand.LowerName,
		brand.ConfigEnvPrefix, brand.ConfigEnvPrefix,
		brand.LowerName, brand.ConfigPath(),
		brand.LowerName, brand.LowerName, brand.LowerName)
}
