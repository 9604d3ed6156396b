package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/appledex/appledex/pkg/governance"
	"github.com/appledex/appledex/pkg/types"
)

// separatorLine divides rendered result blocks.
var separatorLine = strings.Repeat("─", 80)

// renderSearch formats the search output as the tool's text payload.
func renderSearch(out types.SearchOutput, anonymous bool, subscriptionURL string) string {
	var b strings.Builder

	if len(out.Results) == 0 {
		b.WriteString("No results found.\n")
	}

	for i, r := range out.Results {
		if i > 0 {
			b.WriteString("\n")
			b.WriteString(separatorLine)
			b.WriteString("\n\n")
		}
		title := r.Title
		if strings.TrimSpace(title) == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "[%d] %s\nSource: %s\n\n%s\n", i+1, title, r.URL, r.Content)
	}

	if len(out.AdditionalURLs) > 0 {
		b.WriteString("\n")
		b.WriteString(separatorLine)
		b.WriteString("\n\nAdditional Related Documentation:\n")
		b.WriteString("The following pages also matched this query and can be retrieved with the fetch tool.\n")
		for _, u := range out.AdditionalURLs {
			title := u.Title
			if strings.TrimSpace(title) == "" {
				title = "Untitled"
			}
			fmt.Fprintf(&b, "- %s (%s, %d chars)\n", u.URL, title, u.CharacterCount)
		}
	}

	if anonymous {
		b.WriteString(anonymousFooter(subscriptionURL))
	}
	return b.String()
}

// renderFetch formats a fetched document as the tool's text payload.
func renderFetch(doc *types.Document, anonymous bool, subscriptionURL string) string {
	var b strings.Builder
	if strings.TrimSpace(doc.Title) != "" {
		b.WriteString(doc.Title)
		b.WriteString("\n\n")
	}
	b.WriteString(doc.Content)
	if anonymous {
		b.WriteString(anonymousFooter(subscriptionURL))
	}
	return b.String()
}

func anonymousFooter(subscriptionURL string) string {
	return fmt.Sprintf(
		"\n\n%s\n\nYou are using anonymous access with limited quotas. Create an account for higher limits: %s\n",
		separatorLine, subscriptionURL)
}

// denialMessage explains a rate-limit denial to the caller and points
// at the appropriate signup or upgrade page.
func denialMessage(d governance.Decision, anonymous bool, subscriptionURL, upgradeURL string) string {
	var b strings.Builder

	if d.LimitType == "minute" {
		wait := time.Until(d.MinuteResetAt).Round(time.Second)
		if wait < time.Second {
			wait = time.Second
		}
		fmt.Fprintf(&b, "Rate limit exceeded: %d requests per minute allowed on the %s plan. Try again in %d seconds.",
			d.MinuteLimit, d.Plan, int(wait.Seconds()))
	} else {
		fmt.Fprintf(&b, "Weekly rate limit exceeded: the %s plan includes %d requests per week. The limit resets at %s.",
			d.Plan, d.WeeklyLimit, d.WeeklyResetAt.Format(time.RFC3339))
	}

	if anonymous {
		fmt.Fprintf(&b, " Create an account for higher limits: %s", subscriptionURL)
	} else {
		fmt.Fprintf(&b, " Upgrade your plan for higher limits: %s", upgradeURL)
	}
	return b.String()
}
