// Package examples is a small plugin module showing each plugin kind.
package examples

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/keshon/salabot/internal/format"
	"github.com/keshon/salabot/internal/platform"
	"github.com/keshon/salabot/internal/plugin"
)

const (
	category       = "pizza"
	DefaultFactURL = "https://uselessfacts.jsph.pl/api/v2/facts/random?language=en"
)

type Config struct {
	// FactURL returns a JSON object with a "text" field.
	FactURL string
}

// Module returns the example plugins.
func Module(cfg Config) []plugin.Definition {
	if cfg.FactURL == "" {
		cfg.FactURL = DefaultFactURL
	}
	return []plugin.Definition{
		pizzaFilter,
		food,
		pizzaTask,
		fact(cfg.FactURL),
		headline,
	}
}

var pizzaFilter = plugin.Definition{
	Kind: plugin.KindFilter,
	Name: "pizzafilter",
	Hook: plugin.HookPreParse,
	Filter: func(ctx context.Context, msg *platform.Message, env plugin.Env) (bool, error) {
		if msg.Author.ID == env.Client().Self().ID || !strings.Contains(msg.Content, "pizza") {
			return true, nil
		}
		return true, env.Client().Send(ctx, msg.ChannelID, "Mmm... Did someone say pizza?")
	},
}

var food = plugin.Definition{
	Kind:        plugin.KindCommand,
	Name:        "food",
	Category:    category,
	Description: "Tells you information about given food.",
	Aliases:     []string{"f", "foo"},
	Arguments:   []string{"food you want information about"},
	AllowDM:     true,
	Permission:  plugin.PermEveryone,
	Command: func(ctx context.Context, inv *plugin.Invocation) error {
		return inv.Send(ctx, fmt.Sprintf("I know nothing about %s, but I recommend you eat pizza.", inv.Arg(0)))
	},
}

var pizzaTask = plugin.Definition{
	Kind:        plugin.KindTask,
	Name:        "pizzatask",
	Category:    category,
	Description: "Spams that you should eat pizza every 5 seconds.",
	Aliases:     []string{"pt"},
	Permission:  plugin.PermRole,
	Schedule:    "*/5 * * * * *",
	Task: func(context.Context, plugin.Env) (string, error) {
		return "Eat pizza!", nil
	},
}

func fact(url string) plugin.Definition {
	return plugin.Definition{
		Kind:        plugin.KindCommand,
		Name:        "fact",
		Category:    category,
		Description: "Tells you a random fact.",
		Permission:  plugin.PermEveryone,
		AllowDM:     true,
		Command: func(ctx context.Context, inv *plugin.Invocation) error {
			var resp struct {
				Text string `json:"text"`
			}
			if err := inv.Env.HTTP().GetJSON(ctx, url, &resp); err != nil {
				inv.Env.Logger().Warn("Fact lookup failed", zap.Error(err))
				return inv.Reply(ctx, "I forgot every fact I knew. Try again later.")
			}
			return inv.Send(ctx, format.Italic(strings.TrimSpace(resp.Text)))
		},
	}
}

type rss struct {
	Channel struct {
		Title string `xml:"title"`
		Items []struct {
			Title string `xml:"title"`
			Link  string `xml:"link"`
		} `xml:"item"`
	} `xml:"channel"`
}

var headline = plugin.Definition{
	Kind:        plugin.KindCommand,
	Name:        "headline",
	Category:    category,
	Description: "Shows the latest entry of an RSS feed.",
	Arguments:   []string{"feed url"},
	Command: func(ctx context.Context, inv *plugin.Invocation) error {
		url := strings.Trim(inv.Arg(0), "<>")
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return inv.Reply(ctx, "That does not look like a feed url.")
		}
		var feed rss
		if err := inv.Env.HTTP().GetXML(ctx, url, &feed); err != nil {
			inv.Env.Logger().Warn("Feed lookup failed", zap.String("url", url), zap.Error(err))
			return inv.Reply(ctx, "Could not read that feed.")
		}
		if len(feed.Channel.Items) == 0 {
			return inv.Reply(ctx, "The feed is empty.")
		}
		item := feed.Channel.Items[0]
		return inv.Send(ctx, format.Bold(feed.Channel.Title)+"\n"+item.Title+"\n"+item.Link)
	},
}
