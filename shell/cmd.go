// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package shell

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"text/tabwriter"
)

// CmdFn represents a command handler.
type CmdFn func(iface *Interface, arg []string) (res string, err error)

// Cmd represents a shell command.
type Cmd struct {
	// Name is the command name, also used for exact match when Pattern
	// is nil.
	Name string
	// Args is the number of Pattern submatches passed to Fn.
	Args int
	// Pattern is the regular expression matching command lines.
	Pattern *regexp.Regexp
	// Syntax is the arguments description shown in help.
	Syntax string
	// Help is the command description shown in help.
	Help string
	// Fn is the command handler.
	Fn CmdFn
}

var (
	mux  sync.Mutex
	cmds = make(map[string]*Cmd)
)

// Add registers a terminal command, commands with the same name replace each
// other.
func Add(cmd Cmd) {
	mux.Lock()
	defer mux.Unlock()

	cmds[cmd.Name] = &cmd
}

// commands returns registered commands sorted by name.
func commands() (list []*Cmd) {
	mux.Lock()
	defer mux.Unlock()

	for _, cmd := range cmds {
		list = append(list, cmd)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})

	return
}

// Help returns the list of registered commands.
func (iface *Interface) Help(_ []string) (string, error) {
	var buf bytes.Buffer

	t := tabwriter.NewWriter(&buf, 16, 8, 0, '\t', tabwriter.TabIndent)

	for _, cmd := range commands() {
		fmt.Fprintf(t, "%s\t%s\t # %s\n", cmd.Name, cmd.Syntax, cmd.Help)
	}

	t.Flush()

	return buf.String(), nil
}

// find returns the command matching a line along with its arguments.
func find(line string) (match *Cmd, arg []string) {
	for _, cmd := range commands() {
		if cmd.Pattern == nil {
			if cmd.Name == line {
				return cmd, nil
			}
		} else if m := cmd.Pattern.FindStringSubmatch(line); len(m) > 0 && (len(m)-1 == cmd.Args) {
			return cmd, m[1:]
		}
	}

	return
}
