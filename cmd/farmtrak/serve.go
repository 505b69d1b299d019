package main

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/farmauth"
	"github.com/MrEthical07/farmauth/loginflow"
	promexport "github.com/MrEthical07/farmauth/metrics/export/prometheus"
	"github.com/MrEthical07/farmauth/middleware"
	"github.com/MrEthical07/farmauth/transport"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the dashboard locally behind the session guard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		handler, err := newDashboard(rt)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              serveAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			rt.logger.WithField("addr", serveAddr).Info("dashboard listening")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-cmd.Context().Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8080", "listen address")
}

type dashboard struct {
	rt     *runtime
	api    *http.Client
	guard  *middleware.RouteGuard
	logger logrus.FieldLogger
}

func newDashboard(rt *runtime) (http.Handler, error) {
	api, err := transport.NewClient(rt.engine, rt.cfg,
		transport.WithLogger(rt.logger),
		transport.WithMetrics(rt.engine.Metrics()),
	)
	if err != nil {
		return nil, err
	}

	d := &dashboard{
		rt:     rt,
		api:    api,
		guard:  middleware.NewRouteGuard(rt.engine, rt.cfg.Guard, middleware.WithGuardMetrics(rt.engine.Metrics())),
		logger: rt.logger,
	}

	rt.engine.Subscribe(func(ev farmauth.SessionEvent) {
		d.logger.WithFields(logrus.Fields{
			"event":  ev.Kind.String(),
			"email":  ev.UserEmail,
			"reason": ev.Reason,
		}).Info("session changed")
	})

	r := mux.NewRouter()
	r.Use(middleware.Recover(rt.logger), middleware.Guard(d.guard))

	r.HandleFunc(d.guard.EntryPath(), d.handleEntry).Methods(http.MethodGet)
	r.HandleFunc("/login", d.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", d.handleLogout).Methods(http.MethodPost)
	r.PathPrefix("/dashboard/me").HandlerFunc(d.handleMe).Methods(http.MethodGet)
	r.PathPrefix("/dashboard").HandlerFunc(d.handleDashboard).Methods(http.MethodGet)
	r.Handle("/api/session", middleware.RequireSession(rt.engine)(http.HandlerFunc(handleSession))).Methods(http.MethodGet)
	r.Handle("/metrics", promexport.NewCollector(rt.engine).Handler()).Methods(http.MethodGet)

	return r, nil
}

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html><head><title>FarmTrak</title></head><body>
{{if .User}}
<p>Signed in as {{.User}}.</p>
<p><a href="/dashboard">Open the dashboard</a></p>
<form method="post" action="/logout"><button>Sign out</button></form>
{{else}}
<h1>Sign in to FarmTrak</h1>
{{if .Error}}<p role="alert">{{.Error}}</p>{{end}}
<form method="post" action="/login">
  <input type="email" name="email" value="{{.Email}}" placeholder="Email">
  <button>Sign in</button>
</form>
{{end}}
</body></html>`))

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!doctype html>
<html><head><title>FarmTrak dashboard</title></head><body>
<h1>Dashboard</h1>
<p>Signed in as {{.User}}.</p>
<p><a href="/dashboard/me">Account</a></p>
<form method="post" action="/logout"><button>Sign out</button></form>
</body></html>`))

type pageData struct {
	User  string
	Email string
	Error string
}

func (d *dashboard) handleEntry(w http.ResponseWriter, r *http.Request) {
	user, _ := d.rt.engine.CurrentUser(r.Context())
	render(w, http.StatusOK, pageTmpl, pageData{User: user})
}

func (d *dashboard) handleLogin(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.FormValue("email"))

	// One flow per request; concurrent posts must not share attempt state.
	flow := d.rt.newFlow()
	flow.Open()
	defer flow.Close()

	err := flow.ChooseBackend(loginflow.ViewSignIn)
	if err == nil {
		flow.SetEmail(email)
		err = flow.SubmitSignIn(r.Context())
	}
	if err != nil {
		render(w, http.StatusOK, pageTmpl, pageData{Email: email, Error: loginflow.Message(err)})
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (d *dashboard) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := d.rt.engine.Terminate(r.Context()); err != nil {
		d.logger.WithError(err).Warn("logout failed")
	}
	http.Redirect(w, r, d.guard.EntryPath(), http.StatusSeeOther)
}

func (d *dashboard) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user, _ := d.rt.engine.CurrentUser(r.Context())
	render(w, http.StatusOK, dashboardTmpl, pageData{User: user})
}

// handleMe asks the backend through the authenticated client. A 401 there
// ends the session, so the next navigation is redirected to the entry page.
func (d *dashboard) handleMe(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet,
		strings.TrimRight(d.rt.cfg.Backend.BaseURL, "/")+"/me", nil)
	if err != nil {
		http.Error(w, "bad backend url", http.StatusInternalServerError)
		return
	}
	resp, err := d.api.Do(req)
	if err != nil {
		d.logger.WithError(err).Warn("backend unreachable")
		http.Error(w, "Could not reach the server", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		http.Redirect(w, r, d.guard.EntryPath(), http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, io.LimitReader(resp.Body, 1<<20))
}

func handleSession(w http.ResponseWriter, r *http.Request) {
	s, _ := middleware.SessionFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"email": s.UserEmail})
}

func render(w http.ResponseWriter, status int, t *template.Template, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = t.Execute(w, data)
}
