package mail

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/derWhity/cfpdesk/internal/models"
)

// Data is what the templates can refer to
type Data struct {
	EventTitle string
	Name       string
	Proposal   *models.Proposal
	Venue      string
	Time       *time.Time
	Reason     string
	Codes      []string
	// Previous slot for "moved" mails
	OldVenue string
	OldTime  *time.Time
}

type mailTemplate struct {
	subject *template.Template
	body    *template.Template
}

var funcs = template.FuncMap{
	"when": func(t *time.Time) string {
		if t == nil {
			return "to be decided"
		}
		return t.Format("Monday 15:04")
	},
	"join": strings.Join,
}

var templates = map[string]mailTemplate{}

func register(kind, subject, body string) {
	templates[kind] = mailTemplate{
		subject: template.Must(template.New(kind + ".subject").Funcs(funcs).Parse(subject)),
		body:    template.Must(template.New(kind + ".body").Funcs(funcs).Parse(strings.TrimSpace(body) + "\n")),
	}
}

func init() {
	register(models.MailAccepted, `Your {{.EventTitle}} proposal "{{.Proposal.Title}}" has been accepted`, `
Hi {{.Name}},

We're delighted to tell you that "{{.Proposal.Title}}" has been accepted for {{.EventTitle}}.
Please log in and finalise the details of your {{.Proposal.Type}} so that we can schedule it.
`)
	register(models.MailStillConsidered, `Your {{.EventTitle}} proposal "{{.Proposal.Title}}"`, `
Hi {{.Name}},

We've reviewed "{{.Proposal.Title}}" and it is still being considered. We'll let you know as soon as we can.
`)
	register(models.MailRejected, `Your {{.EventTitle}} proposal "{{.Proposal.Title}}"`, `
Hi {{.Name}},

Unfortunately we were not able to accept "{{.Proposal.Title}}" for {{.EventTitle}} this time.
`)
	register(models.MailScheduled, `"{{.Proposal.DisplayTitle}}" has been scheduled`, `
Hi {{.Name}},

"{{.Proposal.DisplayTitle}}" has been scheduled for {{when .Time}} in {{.Venue}}.
`)
	register(models.MailMoved, `"{{.Proposal.DisplayTitle}}" has moved`, `
Hi {{.Name}},

"{{.Proposal.DisplayTitle}}" has moved from {{when .OldTime}} in {{.OldVenue}} to {{when .Time}} in {{.Venue}}.
`)
	register(models.MailLotteryWon, `You have a place at "{{.Proposal.DisplayTitle}}"`, `
Hi {{.Name}},

You won a place at "{{.Proposal.DisplayTitle}}", {{when .Time}} in {{.Venue}}.
Your ticket codes: {{join .Codes ", "}}
`)
	register(models.MailLotteryLost, `Workshop lottery results`, `
Hi {{.Name}},

Unfortunately you did not get a place in any of the workshops you entered the lottery for.
`)
	register(models.MailCheckDetails, `Please check the details of "{{.Proposal.Title}}"`, `
Hi {{.Name}},

Please log in and check that the details we hold for "{{.Proposal.Title}}" are correct.
`)
	register(models.MailFinalise, `Please finalise "{{.Proposal.Title}}"`, `
Hi {{.Name}},

"{{.Proposal.Title}}" has been accepted but we still need your final details. Please log in and finalise it.
`)
	register(models.MailReserve, `"{{.Proposal.Title}}" is on our reserve list`, `
Hi {{.Name}},

"{{.Proposal.Title}}" is on our reserve list. We'll get in touch if a slot becomes available.
`)
	register(models.MailWithdrawn, `"{{.Proposal.Title}}" has been withdrawn`, `
Hi {{.Name}},

This confirms that "{{.Proposal.Title}}" has been withdrawn from {{.EventTitle}}.
{{if .Reason}}The reason you gave us: {{.Reason}}{{end}}
`)
}

// Render renders subject and body of the given kind of mail
func Render(kind string, data Data) (string, string, error) {
	t, ok := templates[kind]
	if !ok {
		return "", "", fmt.Errorf("no mail template for '%s'", kind)
	}
	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("rendering subject of '%s' failed: %v", kind, err)
	}
	if err := t.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("rendering body of '%s' failed: %v", kind, err)
	}
	return subject.String(), body.String(), nil
}
