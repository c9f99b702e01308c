package router

import (
	"html"
	"sort"
	"strings"

	kit "github.com/Reesverleur/watchmebot/internal/transport"
)

// helpText renders help in HTML parse mode for the whole command set or for
// one command path.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root := m.root
	m.mu.RUnlock()

	cur := root
	for _, p := range path {
		n, ok := cur.child(strings.ToLower(strings.TrimPrefix(p, "/")))
		if !ok {
			return "Unknown command. Try <code>/help</code>."
		}
		cur = n
	}
	if cur == root {
		return topHelp(root)
	}
	return nodeHelp(cur, path)
}

func topHelp(root *cmdNode) string {
	lines := []string{"<b>Commands</b>"}
	for _, leaf := range leaves(root, nil) {
		lines = append(lines, helpLine(leaf.path, leaf.cmd))
	}
	lines = append(lines, "", "Send <code>/help &lt;command&gt;</code> for details.")
	return strings.Join(lines, "\n")
}

func nodeHelp(n *cmdNode, path []string) string {
	var lines []string
	if n.cmd != nil {
		lines = append(lines, helpLine(path, n.cmd))
		if u := strings.TrimSpace(n.cmd.Usage); u != "" {
			lines = append(lines, "Usage: <code>"+html.EscapeString(u)+"</code>")
		}
	}
	for _, leaf := range leaves(n, path) {
		if len(leaf.path) == len(path) {
			continue
		}
		lines = append(lines, helpLine(leaf.path, leaf.cmd))
	}
	return strings.Join(lines, "\n")
}

func helpLine(path []string, c *Command) string {
	line := "• <code>/" + html.EscapeString(strings.Join(path, " ")) + "</code>"
	if d := strings.TrimSpace(c.Description); d != "" {
		line += " - " + html.EscapeString(d)
	}
	if c.Access == AccessOwnerOnly {
		line += " 🔒"
	}
	return line
}

type leaf struct {
	path []string
	cmd  *Command
}

// leaves lists every command under n in lexical path order.
func leaves(n *cmdNode, prefix []string) []leaf {
	var out []leaf
	if n.cmd != nil {
		out = append(out, leaf{path: prefix, cmd: n.cmd})
	}
	for _, name := range n.childNames() {
		child, _ := n.child(name)
		p := append(append([]string{}, prefix...), name)
		out = append(out, leaves(child, p)...)
	}
	return out
}

// menuCommands builds the Telegram command menu: public commands only, with
// subcommands flattened to a_b since menu entries cannot contain spaces.
func menuCommands(root *cmdNode) []kit.BotCommand {
	var out []kit.BotCommand
	for _, l := range leaves(root, nil) {
		if l.cmd.Access != AccessEveryone {
			continue
		}
		out = append(out, kit.BotCommand{Command: strings.Join(l.path, "_"), Description: l.cmd.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}
