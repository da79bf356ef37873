package api

import (
	"html/template"
	"net/http"
)

// page is the data model for every operator-facing HTML response.
type page struct {
	Title   string
	Heading string
	Lines   []string
	// ApproveURL, when set, renders the confirmation button.
	ApproveURL string
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
  body { margin: 0; font-family: system-ui, sans-serif; background: #10141a; color: #e8e8e8;
         display: flex; align-items: center; justify-content: center; min-height: 100vh; }
  .card { background: #1b222c; border-radius: 10px; padding: 2.5rem 3rem; max-width: 34rem;
          box-shadow: 0 6px 24px rgba(0,0,0,.4); }
  h1 { font-size: 1.3rem; margin: 0 0 1rem; }
  p { color: #aeb7c2; margin: .4rem 0; line-height: 1.5; }
  a.approve { display: inline-block; margin-top: 1.4rem; padding: .7rem 1.6rem; border-radius: 6px;
              background: #2e7d32; color: #fff; text-decoration: none; font-weight: 600; }
  a.approve:hover { background: #388e3c; }
</style>
</head>
<body>
<div class="card">
  <h1>{{.Heading}}</h1>
  {{range .Lines}}<p>{{.}}</p>
  {{end}}{{if .ApproveURL}}<a class="approve" href="{{.ApproveURL}}">Approve restore</a>{{end}}
</div>
</body>
</html>
`))

func renderPage(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pageTemplate.Execute(w, p)
}
