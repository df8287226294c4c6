package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/storeguard/modules/provider/gemini"
	"github.com/flemzord/storeguard/modules/provider/openai"
)

const (
	providerGemini = "gemini"
	providerOpenAI = "openai"
	providerNone   = "none"

	adminTokenVar = "STOREGUARD_ADMIN_TOKEN"
)

// setupAnswers holds what the init wizard collects.
type setupAnswers struct {
	Bind       string
	Provider   string
	Model      string
	APIKey     string
	AdminToken string
	Origins    string
	TrustProxy bool
}

func defaultAnswers() setupAnswers {
	return setupAnswers{
		Bind:     "127.0.0.1:8080",
		Provider: providerGemini,
		Origins:  "http://localhost:3000,https://localhost:3000",
	}
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively write a new configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			output, _ := cmd.Flags().GetString("output")
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				if _, err := os.Stat(output); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", output)
				}
			}

			ans := defaultAnswers()
			if err := setupForm(&ans).Run(); err != nil {
				return err
			}
			if err := writeSetup(output, ans); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s\n", output, envPath(output))
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "storeguard.yaml", "Where to write the configuration")
	cmd.Flags().Bool("force", false, "Overwrite an existing configuration")
	return cmd
}

func setupForm(ans *setupAnswers) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Value(&ans.Bind).
				Validate(func(s string) error {
					_, err := net.ResolveTCPAddr("tcp", s)
					return err
				}),
			huh.NewInput().
				Title("Allowed storefront origins (comma separated)").
				Value(&ans.Origins),
			huh.NewConfirm().
				Title("Running behind a reverse proxy or CDN?").
				Value(&ans.TrustProxy),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Upstream model provider").
				Options(
					huh.NewOption("Google Gemini", providerGemini),
					huh.NewOption("OpenAI", providerOpenAI),
					huh.NewOption("None (canned replies only)", providerNone),
				).
				Value(&ans.Provider),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Model (empty for the provider default)").
				Value(&ans.Model),
			huh.NewInput().
				Title("API key (stored in .env)").
				EchoMode(huh.EchoModePassword).
				Value(&ans.APIKey),
		).WithHideFunc(func() bool { return ans.Provider == providerNone }),
		huh.NewGroup(
			huh.NewInput().
				Title("Admin bearer token (empty to generate one)").
				EchoMode(huh.EchoModePassword).
				Value(&ans.AdminToken),
		),
	)
}

// renderSetup turns the answers into a config document and the secrets
// that go to the .env file. Secrets never appear in the config itself.
func renderSetup(ans setupAnswers) ([]byte, map[string]string, error) {
	if ans.AdminToken == "" {
		ans.AdminToken = uuid.NewString()
	}
	env := map[string]string{adminTokenVar: ans.AdminToken}

	gateway := map[string]any{
		"bind":                ans.Bind,
		"auth":                map[string]any{"bearer_token": "${" + adminTokenVar + "}"},
		"trust_proxy_headers": ans.TrustProxy,
	}
	if origins := splitList(ans.Origins); len(origins) > 0 {
		gateway["cors"] = map[string]any{"allowed_origins": origins}
	}

	modules := map[string]any{
		"gateway.http": gateway,
	}
	chat := map[string]any{}

	var providerID, keyVar string
	switch ans.Provider {
	case providerGemini:
		providerID, keyVar = gemini.ModuleID, "GEMINI_API_KEY"
	case providerOpenAI:
		providerID, keyVar = openai.ModuleID, "OPENAI_API_KEY"
	case providerNone, "":
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", ans.Provider)
	}
	if providerID != "" {
		prov := map[string]any{"api_key": "${" + keyVar + ":-}"}
		if ans.Model != "" {
			prov["model"] = ans.Model
		}
		modules[providerID] = prov
		chat["providers"] = []string{providerID}
		if ans.APIKey != "" {
			env[keyVar] = ans.APIKey
		}
	}
	modules["guard.chat"] = chat

	doc := map[string]any{
		"version": "1",
		"log":     map[string]any{"level": "info", "format": "text"},
		"modules": modules,
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding config: %w", err)
	}
	return out, env, nil
}

// writeSetup writes the config to path and merges the secrets into the
// .env beside it, keeping any variables already there.
func writeSetup(path string, ans setupAnswers) error {
	doc, env, err := renderSetup(ans)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	dotenv := envPath(path)
	existing, err := godotenv.Read(dotenv)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", dotenv, err)
	}
	for k, v := range env {
		if existing == nil {
			existing = make(map[string]string)
		}
		existing[k] = v
	}
	if err := godotenv.Write(existing, dotenv); err != nil {
		return fmt.Errorf("writing %s: %w", dotenv, err)
	}
	return os.Chmod(dotenv, 0o600)
}

func envPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), ".env")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
