package sandbox

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/c2h5oh/datasize"
)

// repeatedFlag collects repeatable "from:to"-shaped flags, the same
// pattern the teacher's cmd/exec/main.go uses for repeatable -env flags.
type repeatedFlag []string

func (r *repeatedFlag) String() string { return strings.Join(*r, ",") }
func (r *repeatedFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

// ParseArgs builds a SessionConfig from a command line, following the
// long-options-only surface spec.md §6 describes: --rootfs, --cd, --map
// (repeatable), --workspace (repeatable), --verbose, --help, then the
// program and its arguments as positionals.
//
// mode and identity are supplied by the caller (derived from process
// state) rather than recomputed here, so this function stays a pure,
// easily-testable transform from argv to config.
func ParseArgs(argv []string, mode Mode, uid, gid int, stderr io.Writer) (*SessionConfig, error) {
	fs := flag.NewFlagSet("sandbox", flag.ContinueOnError)
	fs.SetOutput(stderr)

	rootfs := fs.String("rootfs", "", "absolute path to the outside rootfs (required except in init mode)")
	cd := fs.String("cd", "", "directory to change to after chroot, relative to the chroot")
	verbose := fs.Bool("verbose", false, "enable verbose logging")
	overlaySize := fs.String("overlay-size", "1GB", "size of the tmpfs backing the overlay workdir")
	var maps repeatedFlag
	var workspaces repeatedFlag
	fs.Var(&maps, "map", "outside:inside read-only shard, overlaid read-write (repeatable)")
	fs.Var(&workspaces, "workspace", "outside:inside read-write bind mount (repeatable)")

	fs.Usage = func() { printHelp(stderr) }

	if err := fs.Parse(argv); err != nil {
		return nil, err
	}

	cmd := fs.Args()
	if len(cmd) == 0 {
		printHelp(stderr)
		return nil, fmt.Errorf("no command given")
	}

	if mode != Init && *rootfs == "" {
		printHelp(stderr)
		return nil, fmt.Errorf("--rootfs is required, unless running as init")
	}

	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(*overlaySize)); err != nil {
		return nil, fmt.Errorf("invalid --overlay-size %q: %w", *overlaySize, err)
	}

	cfg := &SessionConfig{
		RootDir:     strings.TrimSuffix(*rootfs, "/"),
		WorkCwd:     *cd,
		UID:         uid,
		GID:         gid,
		Argv:        cmd,
		Env:         os.Environ(),
		Verbose:     *verbose,
		Mode:        mode,
		OverlaySize: size,
		RunID:       NewRunID(),
	}

	for _, m := range maps {
		mapping, err := parseMappingFlag("map", m, stderr)
		if err != nil {
			continue
		}
		cfg.Shards = append(cfg.Shards, mapping)
	}
	for _, w := range workspaces {
		mapping, err := parseMappingFlag("workspace", w, stderr)
		if err != nil {
			continue
		}
		cfg.Workspaces = append(cfg.Workspaces, mapping)
	}

	return cfg, nil
}

// parseMappingFlag splits "outside:inside" and classifies it, warning
// and dropping (not failing) malformed or invalid entries per spec.md's
// "Mapping validation" soft-failure class.
func parseMappingFlag(flagName, value string, stderr io.Writer) (Mapping, error) {
	outside, inside, found := strings.Cut(value, ":")
	if !found {
		fmt.Fprintf(stderr, "warning: ignoring malformed --%s %q (expected outside:inside)\n", flagName, value)
		return Mapping{}, fmt.Errorf("malformed")
	}
	mapping, err := NewMapping(outside, inside)
	if err != nil {
		fmt.Fprintf(stderr, "warning: ignoring --%s %q: %v\n", flagName, value, err)
		return Mapping{}, err
	}
	return mapping, nil
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: sandbox --rootfs <dir> [--cd <dir>] [--map <from>:<to> ...] [--workspace <from>:<to> ...] [--verbose] [--help] <cmd> [args...]

Example:
  mkdir -p /tmp/workspace
  sandbox --verbose --rootfs /srv/rootfs --workspace /tmp/workspace:/workspace --cd /workspace --map /srv/shards/x86_64:/opt/x86_64 /bin/bash
`)
}
