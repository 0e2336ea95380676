package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mindwtr/mindwtr/internal/config"
	"github.com/mindwtr/mindwtr/internal/remote"
	"github.com/mindwtr/mindwtr/internal/ui"
)

var backendCmd = &cobra.Command{
	Use:     "backend",
	GroupID: "sync",
	Short:   "Show or change the sync backend",
}

var backendShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active backend configuration",
	Args:  cobra.NoArgs,
	RunE:  withApp(appOptions{}, runBackendShow),
}

var backendSetCmd = &cobra.Command{
	Use:   "set <file|webdav|cloud|off>",
	Short: "Select a backend and store its settings",
	Long: `Select the sync backend and store its settings.

Examples:
  mindwtr backend set file --path ~/Dropbox/mindwtr
  mindwtr backend set webdav --url https://dav.example.com/mindwtr --username me --password secret
  mindwtr backend set cloud --url https://cloud.example.com/v1 --token abc123
  mindwtr backend set off`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(appOptions{}, runBackendSet),
}

var backendConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Choose a backend interactively",
	Args:  cobra.NoArgs,
	RunE:  withApp(appOptions{}, runBackendConfigure),
}

var (
	backendFormat   string
	backendURL      string
	backendUsername string
	backendPassword string
	backendToken    string
	backendPath     string
)

func init() {
	rootCmd.AddCommand(backendCmd)
	backendCmd.AddCommand(backendShowCmd, backendSetCmd, backendConfigureCmd)

	backendShowCmd.Flags().StringVar(&backendFormat, "format", formatText, "Output format: text, json or yaml")

	backendSetCmd.Flags().StringVar(&backendURL, "url", "", "WebDAV or cloud endpoint URL")
	backendSetCmd.Flags().StringVar(&backendUsername, "username", "", "WebDAV username")
	backendSetCmd.Flags().StringVar(&backendPassword, "password", "", "WebDAV password")
	backendSetCmd.Flags().StringVar(&backendToken, "token", "", "Cloud bearer token")
	backendSetCmd.Flags().StringVar(&backendPath, "path", "", "Shared folder or .json file for the file backend")
}

// backendSettings is one complete backend choice.
type backendSettings struct {
	Backend  config.Backend
	URL      string
	Username string
	Password string
	Token    string
	Path     string
}

// backendReport is what `backend show` prints. Secrets are reduced to
// whether they are set.
type backendReport struct {
	Backend     string `json:"backend" yaml:"backend"`
	Target      string `json:"target,omitempty" yaml:"target,omitempty"`
	Username    string `json:"username,omitempty" yaml:"username,omitempty"`
	PasswordSet bool   `json:"passwordSet,omitempty" yaml:"passwordSet,omitempty"`
	TokenSet    bool   `json:"tokenSet,omitempty" yaml:"tokenSet,omitempty"`
}

func runBackendShow(app *App, cmd *cobra.Command, args []string) error {
	if err := checkFormat(backendFormat); err != nil {
		return err
	}
	report, err := buildBackendReport(app.Backends)
	if err != nil {
		return err
	}
	return printBackendReport(cmd.OutOrStdout(), report, backendFormat)
}

func buildBackendReport(store *config.BackendStore) (backendReport, error) {
	backend, target, err := describeBackend(store)
	if err != nil {
		return backendReport{}, err
	}
	report := backendReport{Backend: string(backend), Target: target}
	switch backend {
	case config.BackendWebDAV:
		cfg, err := store.WebDAV()
		if err != nil {
			return report, err
		}
		report.Username = cfg.Username
		report.PasswordSet = cfg.Password != ""
	case config.BackendCloud:
		cfg, err := store.Cloud()
		if err != nil {
			return report, err
		}
		report.TokenSet = cfg.Token != ""
	}
	return report, nil
}

func printBackendReport(w io.Writer, r backendReport, format string) error {
	if format != formatText {
		return writeStructured(w, r, format)
	}
	target := r.Target
	if target == "" {
		target = ui.RenderMuted("(not configured)")
	}
	rows := []ui.Row{
		{Key: "Backend", Value: ui.RenderAccent(r.Backend)},
		{Key: "Target", Value: target},
	}
	switch config.Backend(r.Backend) {
	case config.BackendWebDAV:
		rows = append(rows,
			ui.Row{Key: "Username", Value: r.Username},
			ui.Row{Key: "Password", Value: maskSet(r.PasswordSet)},
		)
	case config.BackendCloud:
		rows = append(rows, ui.Row{Key: "Token", Value: maskSet(r.TokenSet)})
	}
	fmt.Fprintln(w, ui.Table(rows))
	return nil
}

func maskSet(set bool) string {
	if set {
		return "********"
	}
	return ui.RenderMuted("(not set)")
}

func runBackendSet(app *App, cmd *cobra.Command, args []string) error {
	backend, err := config.ParseBackend(args[0])
	if err != nil {
		return err
	}
	s := backendSettings{
		Backend:  backend,
		URL:      backendURL,
		Username: backendUsername,
		Password: backendPassword,
		Token:    backendToken,
		Path:     backendPath,
	}
	if err := applyBackend(app.Backends, s); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Sync backend set to %s\n", ui.RenderPass("✓"), ui.RenderAccent(string(backend)))
	return nil
}

// applyBackend validates s and stores it. Settings of other backends are
// left untouched so switching back restores them.
func applyBackend(store *config.BackendStore, s backendSettings) error {
	switch s.Backend {
	case config.BackendFile:
		path := strings.TrimSpace(s.Path)
		if path == "" {
			current, err := store.SyncPath()
			if err != nil {
				return err
			}
			if current == "" {
				return errors.New("the file backend needs --path")
			}
		} else {
			if err := store.SetSyncPath(expandPath(path)); err != nil {
				return err
			}
		}

	case config.BackendWebDAV:
		if strings.TrimSpace(s.URL) == "" {
			return errors.New("the webdav backend needs --url")
		}
		if _, err := remote.NewWebDAVClient(s.URL, s.Username, s.Password, nil); err != nil {
			return fmt.Errorf("invalid WebDAV settings: %w", err)
		}
		if err := store.SetWebDAV(config.WebDAVConfig{URL: s.URL, Username: s.Username, Password: s.Password}); err != nil {
			return err
		}

	case config.BackendCloud:
		if strings.TrimSpace(s.URL) == "" || strings.TrimSpace(s.Token) == "" {
			return errors.New("the cloud backend needs --url and --token")
		}
		if _, err := remote.NewCloudClient(s.URL, s.Token, nil); err != nil {
			return fmt.Errorf("invalid cloud settings: %w", err)
		}
		if err := store.SetCloud(config.CloudConfig{URL: s.URL, Token: s.Token}); err != nil {
			return err
		}
	}
	return store.SetBackend(s.Backend)
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}

func runBackendConfigure(app *App, cmd *cobra.Command, args []string) error {
	if !ui.IsTerminal(os.Stdin) || !ui.IsTerminal(os.Stdout) {
		return errors.New("backend configure needs a terminal; use `mindwtr backend set` instead")
	}

	s, err := currentSettings(app.Backends)
	if err != nil {
		return err
	}
	choice := string(s.Backend)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Sync backend").
				Options(
					huh.NewOption("Shared file (Dropbox, Syncthing, ...)", string(config.BackendFile)),
					huh.NewOption("WebDAV server", string(config.BackendWebDAV)),
					huh.NewOption("mindwtr cloud", string(config.BackendCloud)),
					huh.NewOption("Off", string(config.BackendOff)),
				).
				Value(&choice),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Shared folder or .json file").
				Value(&s.Path).
				Validate(required("path")),
		).WithHideFunc(func() bool { return choice != string(config.BackendFile) }),
		huh.NewGroup(
			huh.NewInput().Title("WebDAV URL").Value(&s.URL).Validate(required("URL")),
			huh.NewInput().Title("Username").Value(&s.Username),
			huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&s.Password),
		).WithHideFunc(func() bool { return choice != string(config.BackendWebDAV) }),
		huh.NewGroup(
			huh.NewInput().Title("Cloud URL").Value(&s.URL).Validate(required("URL")),
			huh.NewInput().Title("Token").EchoMode(huh.EchoModePassword).Value(&s.Token).Validate(required("token")),
		).WithHideFunc(func() bool { return choice != string(config.BackendCloud) }),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
		return err
	}

	s.Backend = config.Backend(choice)
	if err := applyBackend(app.Backends, s); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Sync backend set to %s\n", ui.RenderPass("✓"), ui.RenderAccent(choice))
	return nil
}

// currentSettings loads the stored settings to prefill the form. The URL
// field follows the active backend.
func currentSettings(store *config.BackendStore) (backendSettings, error) {
	backend, err := store.Backend()
	if err != nil {
		return backendSettings{}, err
	}
	s := backendSettings{Backend: backend}
	if s.Path, err = store.SyncPath(); err != nil {
		return s, err
	}
	dav, err := store.WebDAV()
	if err != nil {
		return s, err
	}
	cloud, err := store.Cloud()
	if err != nil {
		return s, err
	}
	s.Username, s.Password, s.Token = dav.Username, dav.Password, cloud.Token
	s.URL = dav.URL
	if backend == config.BackendCloud {
		s.URL = cloud.URL
	}
	return s, nil
}

func required(name string) func(string) error {
	return func(v string) error {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}
