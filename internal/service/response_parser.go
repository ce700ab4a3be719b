package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ShapArt/outlook-exporter/internal/domain"
	"github.com/ShapArt/outlook-exporter/internal/mail"
)

// CommandKind tags a parsed directive.
type CommandKind string

const (
	CommandStatus   CommandKind = "status"
	CommandPriority CommandKind = "priority"
	CommandOwner    CommandKind = "owner"
	CommandComment  CommandKind = "comment"
	CommandReopen   CommandKind = "reopen"
)

// Command is one directive. Only the field matching Kind is set; an owner
// command with an empty Owner clears the responsible.
type Command struct {
	Kind     CommandKind           `json:"kind"`
	Status   domain.TicketStatus   `json:"status,omitempty"`
	Priority domain.TicketPriority `json:"priority,omitempty"`
	Owner    string                `json:"owner,omitempty"`
	Text     string                `json:"text,omitempty"`
}

// Vote is a normalized voting-button selection.
type Vote string

const (
	VoteOK       Vote = "ok"
	VoteNeedTime Vote = "need_time"
	VoteClose    Vote = "close"
	VoteNotOurs  Vote = "not_ours"
	VoteEscalate Vote = "escalate"
)

var voteAliases = map[string]Vote{
	"ok":             VoteOK,
	"okay":           VoteOK,
	"accept":         VoteOK,
	"ок":             VoteOK,
	"принято":        VoteOK,
	"need time":      VoteNeedTime,
	"need more time": VoteNeedTime,
	"нужно время":    VoteNeedTime,
	"close":          VoteClose,
	"done":           VoteClose,
	"закрыть":        VoteClose,
	"not ours":       VoteNotOurs,
	"not mine":       VoteNotOurs,
	"не наше":        VoteNotOurs,
	"не к нам":       VoteNotOurs,
	"escalate":       VoteEscalate,
	"эскалировать":   VoteEscalate,
	"эскалация":      VoteEscalate,
}

var commandNames = map[string]CommandKind{
	"status":        CommandStatus,
	"статус":        CommandStatus,
	"prio":          CommandPriority,
	"priority":      CommandPriority,
	"приоритет":     CommandPriority,
	"owner":         CommandOwner,
	"responsible":   CommandOwner,
	"ответственный": CommandOwner,
	"comment":       CommandComment,
	"комментарий":   CommandComment,
	"reopen":        CommandReopen,
	"переоткрыть":   CommandReopen,
}

var (
	inlineStatus = regexp.MustCompile(`(?i)(?:^|[\s\[(])(?:status|статус)\s*:\s*([^\r\n;,\])]+)`)
	ticketRef    = regexp.MustCompile(`#(\d+)`)
	votePunct    = regexp.MustCompile(`[^\p{L}\p{N} ]+`)
)

var clearOwner = map[string]bool{"-": true, "none": true, "nobody": true, "нет": true}

// ParsedResponse is everything recognized in one reply. Notes collect
// directives that were dropped because their argument did not parse.
type ParsedResponse struct {
	Vote     Vote      `json:"vote,omitempty"`
	Commands []Command `json:"commands,omitempty"`
	Comment  string    `json:"comment,omitempty"`
	Notes    []string  `json:"notes,omitempty"`
}

// Empty reports whether nothing actionable was found.
func (p ParsedResponse) Empty() bool {
	return p.Vote == "" && len(p.Commands) == 0 && p.Comment == ""
}

// Has reports whether a command of kind k was parsed.
func (p ParsedResponse) Has(k CommandKind) bool {
	for _, c := range p.Commands {
		if c.Kind == k {
			return true
		}
	}
	return false
}

// ParseResponse reads a reply to a reminder. It never fails: anything it
// cannot interpret is either kept as a comment or reported in Notes.
func ParseResponse(subject, body, votingResponse string) ParsedResponse {
	var out ParsedResponse

	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, ">") || !strings.HasPrefix(line, "/") {
			break
		}
		if cmd, note, ok := parseCommand(line); ok {
			out.Commands = append(out.Commands, cmd)
		} else if note != "" {
			out.Notes = append(out.Notes, note)
		}
	}
	rest := mail.CleanBody(strings.Join(lines[i:], "\n"))

	if !out.Has(CommandStatus) {
		for _, text := range []string{subject, rest} {
			m := inlineStatus.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			arg := strings.TrimSpace(m[1])
			if status, ok := domain.ParseTicketStatus(arg); ok {
				out.Commands = append(out.Commands, Command{Kind: CommandStatus, Status: status})
			} else {
				out.Notes = append(out.Notes, fmt.Sprintf("unknown status %q", arg))
			}
			break
		}
	}

	if v := strings.TrimSpace(votingResponse); v != "" {
		if vote, ok := ParseVote(v); ok {
			out.Vote = vote
		} else {
			out.Notes = append(out.Notes, fmt.Sprintf("unknown voting option %q", v))
		}
	} else if first, remainder := splitFirstLine(rest); first != "" {
		if vote, ok := ParseVote(first); ok {
			out.Vote = vote
			rest = remainder
		}
	}

	if out.Vote == "" && len(out.Commands) == 0 {
		out.Comment = strings.TrimSpace(rest)
	}
	return out
}

// ParseVote maps a voting option in English or Russian to a Vote.
func ParseVote(text string) (Vote, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.ReplaceAll(t, "_", " ")
	t = strings.Join(strings.Fields(votePunct.ReplaceAllString(t, " ")), " ")
	v, ok := voteAliases[t]
	return v, ok
}

// TicketRef extracts the #id of a reminder subject.
func TicketRef(subject string) (int64, bool) {
	m := ticketRef.FindStringSubmatch(subject)
	if m == nil {
		return 0, false
	}
	var id int64
	if _, err := fmt.Sscan(m[1], &id); err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseCommand(line string) (Command, string, bool) {
	fields := strings.SplitN(strings.TrimPrefix(line, "/"), " ", 2)
	name := strings.ToLower(strings.TrimSpace(fields[0]))
	arg := ""
	if len(fields) > 1 {
		arg = strings.TrimSpace(fields[1])
	}
	kind, ok := commandNames[name]
	if !ok {
		return Command{}, fmt.Sprintf("unknown command /%s", name), false
	}

	switch kind {
	case CommandStatus:
		status, ok := domain.ParseTicketStatus(arg)
		if !ok {
			return Command{}, fmt.Sprintf("unknown status %q", arg), false
		}
		return Command{Kind: kind, Status: status}, "", true
	case CommandPriority:
		prio, ok := domain.ParseTicketPriority(arg)
		if !ok {
			return Command{}, fmt.Sprintf("unknown priority %q", arg), false
		}
		return Command{Kind: kind, Priority: prio}, "", true
	case CommandOwner:
		if arg == "" {
			return Command{}, "owner command without address", false
		}
		if clearOwner[strings.ToLower(arg)] {
			return Command{Kind: kind}, "", true
		}
		return Command{Kind: kind, Owner: strings.ToLower(arg)}, "", true
	case CommandComment:
		if arg == "" {
			return Command{}, "empty comment", false
		}
		return Command{Kind: kind, Text: arg}, "", true
	default:
		return Command{Kind: kind}, "", true
	}
}

func splitFirstLine(text string) (string, string) {
	text = strings.TrimSpace(text)
	first, rest, _ := strings.Cut(text, "\n")
	return strings.TrimSpace(first), strings.TrimSpace(rest)
}
