package cookbook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"

	"github.com/stackpilot/stackpilot/pkg/artifacts"
	"github.com/stackpilot/stackpilot/pkg/engine"
)

// VendorDir is the directory berks vendors cookbooks into, relative to the
// cookbook directory.
const VendorDir = "vendor"

// Uploader copies a local file to a remote artifact URL.
type Uploader interface {
	Upload(ctx context.Context, localPath, rawURL string) error
}

// Manager implements the cookbook commands for one resolved environment.
type Manager struct {
	Config       engine.CookbookConfig
	StackID      string
	ControlPlane engine.ControlPlane
	Uploader     Uploader
	Runner       Runner
	Prompter     engine.Prompter
	Reporter     engine.Reporter
	Logger       zerolog.Logger
}

// NewManager validates the cookbook settings of cfg and returns a manager.
func NewManager(cfg *engine.ResolvedConfig, cp engine.ControlPlane, uploader Uploader, runner Runner,
	prompter engine.Prompter, reporter engine.Reporter, logger zerolog.Logger) (*Manager, error) {
	if err := Validate(cfg.Cookbook); err != nil {
		return nil, err
	}
	return &Manager{
		Config:       cfg.Cookbook,
		StackID:      cfg.StackID,
		ControlPlane: cp,
		Uploader:     uploader,
		Runner:       runner,
		Prompter:     prompter,
		Reporter:     reporter,
		Logger:       logger.With().Str("component", "cookbook").Logger(),
	}, nil
}

// Validate checks that every cookbook setting is present and that the
// cookbook directory exists.
func Validate(c engine.CookbookConfig) error {
	required := []struct {
		name  string
		value string
	}{
		{"cookbook_dir", c.Dir},
		{"cookbook_store", c.Store},
		{"cookbook_path", c.Path},
		{"cookbook_name", c.Name},
		{"cookbook_version", c.Version},
	}
	for _, r := range required {
		if r.value == "" {
			return engine.NewConfigurationError(fmt.Sprintf("Must specify a '%s' in the config", r.name), nil).
				WithOperation("cookbook")
		}
	}

	info, err := os.Stat(c.Dir)
	if err != nil || !info.IsDir() {
		return engine.NewConfigurationError(
			fmt.Sprintf("Cannot find/do not have access to cookbook directory: %s", c.Dir), err,
		).WithOperation("cookbook")
	}
	return nil
}

// LocalArtifact returns the path of the packaged zip.
func (m *Manager) LocalArtifact() string {
	return filepath.Join(m.Config.Dir, m.Config.Artifact())
}

// RemoteArtifact returns the URL the zip is uploaded to.
func (m *Manager) RemoteArtifact() (string, error) {
	u, err := artifacts.Join(m.Config.Store, m.Config.Path, m.Config.Artifact())
	if err != nil {
		return "", engine.NewConfigurationError("invalid cookbook_store", err).WithResource(m.Config.Store)
	}
	return u, nil
}

// Vendor removes previous artifacts and vendors the cookbooks with berks.
func (m *Manager) Vendor(ctx context.Context) error {
	if err := m.Cleanup(ctx); err != nil {
		return err
	}
	m.Logger.Debug().Str("dir", m.Config.Dir).Msg("vendoring cookbooks")
	if err := m.Runner.Run(ctx, m.Config.Dir, "berks", "vendor", VendorDir, "-e", "opsworks"); err != nil {
		return engine.NewOperationFailureError("berks vendor failed", err).WithOperation("cookbook_vendor")
	}
	return nil
}

// Package zips the vendor directory into the artifact.
func (m *Manager) Package(ctx context.Context) (string, error) {
	if err := m.removeZipFiles(); err != nil {
		return "", err
	}

	src := filepath.Join(m.Config.Dir, VendorDir)
	if _, err := os.Stat(src); err != nil {
		return "", engine.NewConfigurationError("nothing to package, run cookbook vendor first", err).
			WithResource(src)
	}

	dst := m.LocalArtifact()
	n, err := zipDir(ctx, m.Config.Dir, VendorDir, dst)
	if err != nil {
		return "", engine.NewOperationFailureError("failed to package cookbooks", err).WithResource(dst)
	}
	m.Logger.Info().Str("artifact", dst).Int("files", n).Msg("cookbooks packaged")
	return dst, nil
}

// Upload copies the artifact to the cookbook store.
func (m *Manager) Upload(ctx context.Context) (string, error) {
	remote, err := m.RemoteArtifact()
	if err != nil {
		return "", err
	}
	if err := m.Uploader.Upload(ctx, m.LocalArtifact(), remote); err != nil {
		return "", engine.NewOperationFailureError("failed to upload cookbooks", err).WithResource(remote)
	}
	m.Reporter.Successf("Uploaded %s", remote)
	return remote, nil
}

// UpdateCustomJSON replaces the stack custom JSON with the cookbook's
// custom.json after confirmation.
func (m *Manager) UpdateCustomJSON(ctx context.Context) error {
	path := filepath.Join(m.Config.Dir, m.Config.JSON)
	raw, err := os.ReadFile(path)
	if err != nil {
		return engine.NewConfigurationError("failed to read custom JSON", err).WithResource(path)
	}
	if !json.Valid(raw) {
		return engine.NewPayloadError("Check your JSON for errors!", nil).WithResource(path)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return engine.NewPayloadError("Check your JSON for errors!", err).WithResource(path)
	}
	m.Reporter.Block(m.Config.JSON, pretty.String())

	if err := m.confirm(ctx, fmt.Sprintf("Are you sure you want to update the custom JSON for stack %s?", m.StackID)); err != nil {
		return err
	}

	custom := string(raw)
	if err := m.ControlPlane.UpdateStack(ctx, m.StackID, engine.StackUpdate{CustomJSON: &custom}); err != nil {
		return engine.NewInternalError("failed to update stack", err).WithResource(m.StackID)
	}
	m.Reporter.Successf("Updated!")
	return nil
}

// UpdateStackCookbooks points the stack at the uploaded artifact after
// confirmation.
func (m *Manager) UpdateStackCookbooks(ctx context.Context) error {
	remote, err := m.RemoteArtifact()
	if err != nil {
		return err
	}
	u, err := artifacts.ParseURL(remote)
	if err != nil {
		return engine.NewConfigurationError("invalid cookbook_store", err).WithResource(remote)
	}

	if err := m.confirm(ctx, fmt.Sprintf("Are you sure you want to update the custom cookbooks for stack %s?", m.StackID)); err != nil {
		return err
	}

	enabled := true
	update := engine.StackUpdate{
		UseCustomCookbooks:    &enabled,
		CustomCookbooksSource: &engine.CookbookSource{Type: u.Scheme, URL: remote},
	}
	if err := m.ControlPlane.UpdateStack(ctx, m.StackID, update); err != nil {
		return engine.NewInternalError("failed to update stack", err).WithResource(m.StackID)
	}
	m.Reporter.Successf("Cookbooks updated")
	return nil
}

// Release vendors, packages and uploads the cookbooks, then points the
// stack at the new artifact.
func (m *Manager) Release(ctx context.Context) error {
	if err := m.Vendor(ctx); err != nil {
		return err
	}
	if _, err := m.Package(ctx); err != nil {
		return err
	}
	if _, err := m.Upload(ctx); err != nil {
		return err
	}
	if err := m.UpdateStackCookbooks(ctx); err != nil {
		return err
	}
	m.Reporter.Successf("Released!")
	return nil
}

// Cleanup removes packaged zips and the vendor directory.
func (m *Manager) Cleanup(ctx context.Context) error {
	if err := m.removeZipFiles(); err != nil {
		return err
	}
	vendor := filepath.Join(m.Config.Dir, VendorDir)
	if err := os.RemoveAll(vendor); err != nil {
		return engine.NewOperationFailureError("failed to remove vendor directory", err).WithResource(vendor)
	}
	return nil
}

func (m *Manager) confirm(ctx context.Context, question string) error {
	ok, err := m.Prompter.Confirm(ctx, question)
	if err != nil {
		return err
	}
	if !ok {
		return engine.NewDeclinedError("You said no, so we're done here.")
	}
	return nil
}

// removeZipFiles deletes every <name>*.zip in the cookbook directory.
func (m *Manager) removeZipFiles() error {
	pattern, err := glob.Compile(glob.QuoteMeta(m.Config.Name) + "*.zip")
	if err != nil {
		return engine.NewConfigurationError("invalid cookbook_name", err).WithResource(m.Config.Name)
	}

	entries, err := os.ReadDir(m.Config.Dir)
	if err != nil {
		return engine.NewConfigurationError("failed to read cookbook directory", err).WithResource(m.Config.Dir)
	}
	for _, e := range entries {
		if e.IsDir() || !pattern.Match(e.Name()) {
			continue
		}
		path := filepath.Join(m.Config.Dir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return engine.NewOperationFailureError("failed to remove artifact", err).WithResource(path)
		}
		m.Logger.Debug().Str("path", path).Msg("removed artifact")
	}
	return nil
}
