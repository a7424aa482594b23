// Package command parses control messages sent to the bot. Anything that is
// not a command is a post.
package command

import (
	"regexp"
	"strings"
)

type Kind int

const (
	Post Kind = iota
	WhoAmI
	Followers
	Following
	Follow
	Unfollow
	Direct
	Reply
	ListWatches
	Watch
	Unwatch
	Help
)

func (k Kind) String() string {
	switch k {
	case Post:
		return "post"
	case WhoAmI:
		return "me"
	case Followers:
		return "ers"
	case Following:
		return "ing"
	case Follow:
		return "f"
	case Unfollow:
		return "u"
	case Direct:
		return "d"
	case Reply:
		return "@"
	case ListWatches:
		return "s"
	case Watch:
		return "s word"
	case Unwatch:
		return "us"
	case Help:
		return "help"
	}
	return "unknown"
}

// Command is a parsed control message
type Command struct {
	Kind     Kind
	Username string
	Message  string
	Word     string
	// Text is the original message
	Text string
}

type entry struct {
	re   *regexp.Regexp
	kind Kind
	help string
}

// Router matches messages against the command table in order
type Router struct {
	entries []entry
}

// The order matters: "s" must be tried before "s word".
var defaultTable = []struct {
	pattern string
	kind    Kind
	help    string
}{
	{`^me$`, WhoAmI, `"me" - shows who you are: your username and handle`},
	{`^ers$`, Followers, `"ers" - shows your followers`},
	{`^ing$`, Following, `"ing" - shows who you follow`},
	{`^f (?P<username>[-\w._]+)$`, Follow, `"f username" - follow this user`},
	{`^u (?P<username>[-\w._]+)$`, Unfollow, `"u username" - unfollow this user`},
	{`^d (?P<username>[-\w._]+) (?P<message>.*)$`, Direct, `"d username message text" - send direct message to the user`},
	{`^@(?P<username>[-\w._]+) (?P<message>.*)$`, Reply, `"@username message text" - reply to a user`},
	{`^s$`, ListWatches, `"s" - show saved searches`},
	{`^s (?P<word>.+)$`, Watch, `"s word" - save live search term`},
	{`^us (?P<word>.+)$`, Unwatch, `"us word" - delete live search term`},
	{`^help$`, Help, `"help" - show this help`},
}

func NewRouter() *Router {
	r := &Router{}
	for _, e := range defaultTable {
		r.entries = append(r.entries, entry{
			re:   regexp.MustCompile(`(?i)` + e.pattern),
			kind: e.kind,
			help: e.help,
		})
	}
	return r
}

// Parse returns the first matching command, or a Post command
func (r *Router) Parse(text string) Command {
	text = strings.TrimSpace(text)
	for _, e := range r.entries {
		m := e.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		cmd := Command{Kind: e.kind, Text: text}
		for i, name := range e.re.SubexpNames() {
			switch name {
			case "username":
				cmd.Username = strings.ToLower(m[i])
			case "message":
				cmd.Message = m[i]
			case "word":
				cmd.Word = m[i]
			}
		}
		return cmd
	}
	return Command{Kind: Post, Text: text}
}

// Help renders the command list
func (r *Router) Help(title string) string {
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n\nCommands:")
	for _, e := range r.entries {
		sb.WriteString("\n  ")
		sb.WriteString(e.help)
	}
	sb.WriteString("\n\nAnything else is posted to your followers.")
	return sb.String()
}
