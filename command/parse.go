// Package command parses chat lines into typed bot commands.
package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Upper bounds for giveaway timing arguments.
const (
	MaxGiveawayMinutes = 7 * 24 * 60
	MaxEndSeconds      = MaxGiveawayMinutes * 60
)

// Command is one parsed chat command.
type Command interface {
	// AdminOnly reports whether only admins may run it.
	AdminOnly() bool
}

type adminCmd struct{}

func (adminCmd) AdminOnly() bool { return true }

type userCmd struct{}

func (userCmd) AdminOnly() bool { return false }

type (
	AddAdmin struct {
		adminCmd
		Target string
	}
	RemoveAdmin struct {
		adminCmd
		Target string
	}
	// Blacklist is "!blacklist" or its alias "!kill".
	Blacklist struct {
		adminCmd
		Target string
	}
	CreatePrizeList struct {
		adminCmd
		Name  string
		Items []string
	}
	CreateGiveaway struct {
		adminCmd
		Name     string
		EntryCmd string
		// Minutes is nil when the giveaway has no auto-end.
		Minutes    *float64
		Whitelist  string
		PrizeList  string
		NumWinners int
		MinLevel   int
	}
	// EndGiveaway ends now when Seconds is nil.
	EndGiveaway struct {
		adminCmd
		Entry   string
		Seconds *int
	}
	CancelGiveaway struct {
		adminCmd
		Entry string
	}
	Quit struct{ adminCmd }

	Rank     struct{ userCmd }
	TimeLeft struct {
		userCmd
		Entry string
	}
	Winners struct {
		userCmd
		Entry string
	}
	// Enter is any other "!word"; it may or may not name a giveaway.
	Enter struct {
		userCmd
		Entry string
	}
)

// UsageError is a malformed command; Error is the reply for chat.
type UsageError struct {
	Usage string
	// AdminOnly is set when the malformed command is an admin command.
	AdminOnly bool
}

func (e *UsageError) Error() string { return e.Usage }

func usage(format string, args ...any) *UsageError {
	return &UsageError{Usage: fmt.Sprintf(format, args...)}
}

const (
	UsageAddAdmin        = "Usage: !addadmin @someone"
	UsageRemoveAdmin     = "Usage: !removeadmin @someone"
	UsageBlacklist       = "Usage: !blacklist @someone OR !blacklist 0xWallet"
	UsageCreatePrizeList = "Usage: !createprizelist listName, item1, item2, ..."
	UsageCreateGiveaway  = "Usage: !creategiveaway, name, !entry, minutes, whitelist, prizelist, winners, minlvl"
	UsageEndGiveaway     = "Usage: !endgiveaway !entry [seconds]"
	UsageCancelGiveaway  = "Usage: !cancelgiveaway !entry"
	UsageTimeLeft        = "Usage: !timeleft !entrycmd"
	UsageWinners         = "Usage: !winners !entrycmd"
)

var adminHeads = map[string]bool{
	"!addadmin": true, "!removeadmin": true, "!blacklist": true, "!kill": true,
	"!createprizelist": true, "!creategiveaway": true, "!endgiveaway": true,
	"!cancelgiveaway": true, "!quit": true, "!exit": true, "!shutdown": true,
}

// Parse turns text into a command. Plain chat returns (nil, nil).
func Parse(text string) (Command, error) {
	cmd, err := parse(text)
	var ue *UsageError
	if errors.As(err, &ue) {
		ue.AdminOnly = adminHeads[head(text)]
		return nil, ue
	}
	return cmd, err
}

func head(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, " \t,"); i >= 0 {
		text = text[:i]
	}
	return strings.ToLower(text)
}

func parse(text string) (Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return nil, nil
	}
	end := len(text)
	if i := strings.IndexAny(text, " \t,"); i >= 0 {
		end = i
	}
	head := strings.ToLower(text[:end])
	rest := strings.TrimSpace(text[end:])
	args := strings.Fields(rest)

	switch head {
	case "!addadmin":
		if len(args) < 1 {
			return nil, usage(UsageAddAdmin)
		}
		return AddAdmin{Target: strings.ToLower(args[0])}, nil
	case "!removeadmin":
		if len(args) < 1 {
			return nil, usage(UsageRemoveAdmin)
		}
		return RemoveAdmin{Target: strings.ToLower(args[0])}, nil
	case "!blacklist", "!kill":
		if len(args) < 1 {
			return nil, usage(UsageBlacklist)
		}
		return Blacklist{Target: strings.ToLower(args[0])}, nil
	case "!createprizelist":
		return parseCreatePrizeList(rest)
	case "!creategiveaway":
		return parseCreateGiveaway(rest)
	case "!endgiveaway":
		if len(args) < 1 {
			return nil, usage(UsageEndGiveaway)
		}
		cmd := EndGiveaway{Entry: strings.ToLower(args[0])}
		if len(args) >= 2 {
			// unparseable seconds fall back to ending now
			if n, err := strconv.Atoi(args[1]); err == nil && n >= 0 {
				if n > MaxEndSeconds {
					return nil, usage("Seconds must be at most %d. %s", MaxEndSeconds, UsageEndGiveaway)
				}
				cmd.Seconds = &n
			}
		}
		return cmd, nil
	case "!cancelgiveaway":
		if len(args) < 1 {
			return nil, usage(UsageCancelGiveaway)
		}
		return CancelGiveaway{Entry: strings.ToLower(args[0])}, nil
	case "!quit", "!exit", "!shutdown":
		return Quit{}, nil
	case "!rank", "!level":
		return Rank{}, nil
	case "!timeleft":
		if len(args) < 1 {
			return nil, usage(UsageTimeLeft)
		}
		return TimeLeft{Entry: strings.ToLower(args[0])}, nil
	case "!winners":
		if len(args) < 1 {
			return nil, usage(UsageWinners)
		}
		return Winners{Entry: strings.ToLower(args[0])}, nil
	}
	if head == "!" {
		return nil, nil
	}
	return Enter{Entry: head}, nil
}

func splitCSV(rest string) []string {
	rest = strings.Trim(rest, " ,")
	if rest == "" {
		return nil
	}
	parts := strings.Split(rest, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseCreatePrizeList(rest string) (Command, error) {
	parts := splitCSV(rest)
	if len(parts) == 0 || parts[0] == "" {
		return nil, usage(UsageCreatePrizeList)
	}
	items := make([]string, 0, len(parts)-1)
	for _, it := range parts[1:] {
		if it != "" {
			items = append(items, it)
		}
	}
	return CreatePrizeList{Name: parts[0], Items: items}, nil
}

func isNone(s string) bool { return s == "" || strings.EqualFold(s, "none") }

func parseCreateGiveaway(rest string) (Command, error) {
	parts := splitCSV(rest)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, usage(UsageCreateGiveaway)
	}
	field := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}
	cmd := CreateGiveaway{
		Name:       parts[0],
		EntryCmd:   strings.ToLower(parts[1]),
		NumWinners: 1,
		MinLevel:   1,
	}
	if m := field(2); !isNone(m) {
		v, err := strconv.ParseFloat(m, 64)
		if err != nil || math.IsNaN(v) || v <= 0 || v > MaxGiveawayMinutes ||
			time.Duration(v*float64(time.Minute)) <= 0 {
			return nil, usage("Invalid minutes %q. %s", m, UsageCreateGiveaway)
		}
		cmd.Minutes = &v
	}
	if w := field(3); !isNone(w) {
		cmd.Whitelist = w
	}
	if p := field(4); !isNone(p) {
		cmd.PrizeList = p
	}
	if n := field(5); !isNone(n) {
		v, err := strconv.Atoi(n)
		if err != nil || v < 1 {
			return nil, usage("Invalid winners count %q. %s", n, UsageCreateGiveaway)
		}
		cmd.NumWinners = v
	}
	if l := field(6); !isNone(l) {
		v, err := strconv.Atoi(l)
		if err != nil || v < 1 {
			return nil, usage("Invalid min level %q. %s", l, UsageCreateGiveaway)
		}
		cmd.MinLevel = v
	}
	return cmd, nil
}
