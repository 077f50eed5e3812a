package main

import (
	"html/template"
	"net/http"

	"github.com/ekyaaa/cafe-tone/session"
)

// home renders the player shell. The page is the same for everyone; what the
// browser script may do is decided by check-connection, never by the markup.
func (app *application) home(w http.ResponseWriter, r *http.Request) {
	user, ok := session.GetUser(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	status, err := app.playback.Resolve(user)
	if err != nil {
		app.logger.Error("error resolving connection", "user_id", user.ID, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `
		<html>
		<head>
			<title>Cafe Tone</title>
			<style>
				body {
					font-family: Arial, sans-serif;
					max-width: 800px;
					margin: 0 auto;
					padding: 20px;
					line-height: 1.6;
				}
				h1 {
					color: #1DB954;
				}
				.card {
					border: 1px solid #ddd;
					border-radius: 8px;
					padding: 20px;
					margin-bottom: 20px;
				}
			</style>
		</head>
		<body>
			<h1>Cafe Tone</h1>
			<div class="card">
				<p>Signed in as ` + template.HTMLEscapeString(user.Name) + ` (` + user.Role.String() + `)</p>
				<form method="POST" action="/logout"><button type="submit">Logout</button></form>
			</div>`

	switch {
	case status.CanControl:
		html += `
			<div class="card">
				<p>Your Spotify account drives the shared player.</p>
				<form method="POST" action="/spotify/disconnect"><button type="submit">Disconnect Spotify</button></form>
			</div>`
	case status.IsAdmin && !status.IsConnected:
		html += `
			<div class="card">
				<p>No Spotify account is connected yet.</p>
				<p><a href="/spotify/login">Connect Spotify</a></p>
			</div>`
	case status.IsConnected:
		html += `
			<div class="card">
				<p>Now playing follows the shared Spotify account.</p>
			</div>`
	default:
		html += `
			<div class="card">
				<p>Nothing to show until an admin connects a Spotify account.</p>
			</div>`
	}

	html += `
		</body>
		</html>
	`

	w.Write([]byte(html))
}
