package main

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/clusterlib/clusterlib/factory"
	"github.com/clusterlib/clusterlib/lock"
	"github.com/clusterlib/clusterlib/notifyable"
)

// command is one interactive-shell or -c verb. args excludes the verb
// itself.
type command struct {
	usage       string
	description string
	run         func(ctx context.Context, f *factory.Factory, args []string) (string, error)
}

var commands = map[string]command{
	"ls": {
		usage:       "ls <key>",
		description: "list the applications under key (only the root key has applications)",
		run:         cmdLS,
	},
	"health": {
		usage:       "health <node-key>",
		description: "report whether a node is connected and healthy",
		run:         cmdHealth,
	},
	"lock": {
		usage:       "lock <dir-key> <shared|exclusive> <msecTimeout>",
		description: "acquire a distributed lock, then release it immediately",
		run:         cmdLock,
	},
	"leader": {
		usage:       "leader <group-key>",
		description: "bid for group leadership and report the outcome",
		run:         cmdLeader,
	},
	"getprop": {
		usage:       "getprop <propertylist-key> <name>",
		description: "read a property list value, following searchParent",
		run:         cmdGetProp,
	},
	"setprop": {
		usage:       "setprop <propertylist-key> <name> <value>",
		description: "stage and publish a property list value",
		run:         cmdSetProp,
	},
}

func listCommands() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		c := commands[name]
		fmt.Fprintf(&b, "%-40s %s\n", c.usage, c.description)
	}
	return b.String()
}

func dispatch(ctx context.Context, f *factory.Factory, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	c, ok := commands[fields[0]]
	if !ok {
		return "", fmt.Errorf("unknown command %q (run with -l to list commands)", fields[0])
	}
	return c.run(ctx, f, fields[1:])
}

func runInteractive(ctx context.Context, f *factory.Factory) error {
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		out, err := dispatch(ctx, f, line)
		if err != nil {
			fmt.Fprintln(stderr, "error:", err)
			continue
		}
		if out != "" {
			fmt.Fprintln(stdout, out)
		}
	}
	return scanner.Err()
}

func cmdLS(ctx context.Context, f *factory.Factory, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: ls <key>")
	}
	target, err := notifyable.Resolve(ctx, f.Root(), args[0])
	if err != nil {
		return "", err
	}
	t, ok := target.(notifyable.HasApplications)
	if !ok {
		return "", fmt.Errorf("%s (%s) has no listable children here; refine the key", target.Key(), target.Kind())
	}
	names, err := t.ApplicationNames(ctx)
	if err != nil {
		return "", err
	}
	return strings.Join(names, "\n"), nil
}

func cmdHealth(ctx context.Context, f *factory.Factory, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: health <node-key>")
	}
	target, err := notifyable.Resolve(ctx, f.Root(), args[0])
	if err != nil {
		return "", err
	}
	node, ok := target.(*notifyable.Node)
	if !ok {
		return "", fmt.Errorf("%s is not a node", args[0])
	}
	connected, err := node.IsConnected(ctx)
	if err != nil {
		return "", err
	}
	healthy, err := node.IsHealthy(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("connected=%v healthy=%v", connected, healthy), nil
}

func cmdLock(ctx context.Context, f *factory.Factory, args []string) (string, error) {
	if len(args) != 3 {
		return "", fmt.Errorf("usage: lock <dir-key> <shared|exclusive> <msecTimeout>")
	}
	var mode lock.Mode
	switch args[1] {
	case "shared":
		mode = lock.Shared
	case "exclusive":
		mode = lock.Exclusive
	default:
		return "", fmt.Errorf("mode must be shared or exclusive, got %q", args[1])
	}
	msec, err := strconv.Atoi(args[2])
	if err != nil {
		return "", fmt.Errorf("msecTimeout must be an integer: %w", err)
	}
	client := f.CreateClient()
	if err := client.Locks().Acquire(ctx, args[0], mode, msec); err != nil {
		return "", err
	}
	if err := client.Locks().Release(ctx, args[0], mode); err != nil {
		return "", err
	}
	return "acquired and released", nil
}

func cmdLeader(ctx context.Context, f *factory.Factory, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: leader <group-key>")
	}
	target, err := notifyable.Resolve(ctx, f.Root(), args[0])
	if err != nil {
		return "", err
	}
	group, ok := target.(*notifyable.Group)
	if !ok {
		return "", fmt.Errorf("%s is not a group", args[0])
	}
	won, err := group.TryToBecomeLeader(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("leader=%v", won), nil
}

func cmdGetProp(ctx context.Context, f *factory.Factory, args []string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("usage: getprop <propertylist-key> <name>")
	}
	target, err := notifyable.Resolve(ctx, f.Root(), args[0])
	if err != nil {
		return "", err
	}
	pl, ok := target.(*notifyable.PropertyList)
	if !ok {
		return "", fmt.Errorf("%s is not a property list", args[0])
	}
	value, fromList, found, err := pl.KeyValues().Get(ctx, args[1], true)
	if err != nil {
		return "", err
	}
	if !found {
		return "not found", nil
	}
	return fmt.Sprintf("%s (from %s)", string(value), fromList), nil
}

func cmdSetProp(ctx context.Context, f *factory.Factory, args []string) (string, error) {
	if len(args) != 3 {
		return "", fmt.Errorf("usage: setprop <propertylist-key> <name> <value>")
	}
	target, err := notifyable.Resolve(ctx, f.Root(), args[0])
	if err != nil {
		return "", err
	}
	pl, ok := target.(*notifyable.PropertyList)
	if !ok {
		return "", fmt.Errorf("%s is not a property list", args[0])
	}
	rawValue := fmt.Sprintf("%q", args[2])
	if err := pl.KeyValues().Set(args[1], []byte(rawValue)); err != nil {
		return "", err
	}
	if err := pl.KeyValues().Publish(ctx, false); err != nil {
		return "", err
	}
	return "ok", nil
}
