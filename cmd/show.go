package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sessionrender "github.com/bnema/devsession/internal/adapters/render/session"
	"github.com/bnema/devsession/internal/domain"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

type sessionDocument struct {
	Root      string         `json:"root" yaml:"root"`
	CreatedAt time.Time      `json:"createdAt" yaml:"createdAt"`
	DeviceID  string         `json:"deviceId,omitempty" yaml:"deviceId,omitempty"`
	Note      string         `json:"note,omitempty" yaml:"note,omitempty"`
	Files     []fileDocument `json:"files" yaml:"files"`
}

type fileDocument struct {
	Path      string `json:"path" yaml:"path"`
	Line      int    `json:"line" yaml:"line"`
	Character int    `json:"character" yaml:"character"`
}

func newSessionDocument(root string, session domain.DevSession) sessionDocument {
	files := make([]fileDocument, 0, len(session.Files))
	for _, file := range session.Files {
		files = append(files, fileDocument{Path: file.Path, Line: file.Line, Character: file.Character})
	}

	return sessionDocument{
		Root:      root,
		CreatedAt: session.CreatedAt,
		DeviceID:  string(session.DeviceID),
		Note:      session.Note,
		Files:     files,
	}
}

func newShowCmd(app *app) *cobra.Command {
	var asJSON bool
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the stored project session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := app.root()
			if err != nil {
				return err
			}

			session, err := app.store.Read(cmd.Context(), root)
			if err != nil {
				if errors.Is(err, domain.ErrSessionNotFound) {
					return fmt.Errorf("no session in %s: %w", root, err)
				}
				return err
			}

			switch {
			case asJSON:
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(newSessionDocument(root, session))
			case asYAML:
				out, err := yaml.Marshal(newSessionDocument(root, session))
				if err != nil {
					return fmt.Errorf("encode session yaml: %w", err)
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			default:
				return writeSessionOutput(cmd, app, root, session)
			}
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Output YAML")
	cmd.MarkFlagsMutuallyExclusive("json", "yaml")
	return cmd
}

func writeSessionOutput(cmd *cobra.Command, app *app, root string, session domain.DevSession) error {
	device, err := app.deviceID(cmd.Context())
	if err != nil {
		return err
	}

	rendered := app.sessionRender(session, sessionrender.RenderOptions{
		Root:       root,
		Now:        app.now(),
		DeviceID:   device,
		StaleAfter: app.cfg.StaleAfter,
	})

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}

func newDeviceCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "device",
		Short: "Print this installation's device id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			device, err := app.deviceID(cmd.Context())
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), device)
			return err
		},
	}
}
