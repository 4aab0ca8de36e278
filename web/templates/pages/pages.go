// Package pages renders the server-side HTML views as templ components.
package pages

import (
	"embed"
	"html/template"

	"github.com/a-h/templ"
	"github.com/jon4hz/feedbackr/internal/database"
	"github.com/jon4hz/feedbackr/internal/forms"
	"github.com/jon4hz/feedbackr/web/templates/components"
)

//go:embed html/*.html
var htmlFS embed.FS

var views = map[string]*template.Template{
	"register": parse("register"),
	"login":    parse("login"),
	"profile":  parse("profile"),
	"feedback": parse("feedback"),
	"error":    parse("error"),
}

// parse pairs the layout with a single page so every page can define "content".
func parse(name string) *template.Template {
	return template.Must(
		template.New("base.html").
			Funcs(components.Funcs()).
			ParseFS(htmlFS, "html/base.html", "html/"+name+".html"),
	)
}

// Layout holds what every page needs.
type Layout struct {
	Title     string
	User      string
	CSRFToken string
	Flashes   []string
}

type RegisterPage struct {
	Layout
	Form   forms.RegisterInput
	Errors forms.Errors
}

type LoginPage struct {
	Layout
	Username string
	// Error is the single message shown for rejected credentials.
	Error  string
	Errors forms.Errors
}

type ProfilePage struct {
	Layout
	Account   database.User
	Feedback  []database.Feedback
	AvatarURL string
}

type FeedbackPage struct {
	Layout
	Action  string
	Owner   string
	Editing bool
	Form    forms.FeedbackInput
	Errors  forms.Errors
}

type ErrorPage struct {
	Layout
	Status  int
	Message string
}

func Register(p RegisterPage) templ.Component {
	p.Form.Password = ""
	return templ.FromGoHTML(views["register"], p)
}

func Login(p LoginPage) templ.Component {
	return templ.FromGoHTML(views["login"], p)
}

func Profile(p ProfilePage) templ.Component {
	return templ.FromGoHTML(views["profile"], p)
}

func Feedback(p FeedbackPage) templ.Component {
	return templ.FromGoHTML(views["feedback"], p)
}

func Error(p ErrorPage) templ.Component {
	return templ.FromGoHTML(views["error"], p)
}
